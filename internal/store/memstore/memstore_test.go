package memstore

import (
	"testing"

	"github.com/moctezuma-dev/zappy-back/internal/store"
	"github.com/moctezuma-dev/zappy-back/internal/store/storetest"
)

func TestMemStore_Compliance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
