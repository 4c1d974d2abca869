package retrieval

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/moctezuma-dev/zappy-back/internal/llm"
	"github.com/moctezuma-dev/zappy-back/internal/model"
	"github.com/moctezuma-dev/zappy-back/internal/store"
)

const (
	historyLimit   = 30
	snippetRunes   = 1000
	contextDivider = "\n\n---\n\n"
	toolAlerts     = "alerts"
	toolKnowledge  = "knowledge"
)

const (
	ActionCreateWorkItem  = "create_work_item"
	ActionResolveAlert    = "resolve_alert"
	ActionGenerateSummary = "generate_summary"
)

var systemPrompt = strings.Join([]string{
	"Eres el asistente Zero-Click CRM.",
	"Responde en español, de forma breve y accionable.",
	"Usa únicamente el contexto proporcionado; si no alcanza, dilo explícitamente.",
	"Cita los identificadores de registros cuando sean relevantes.",
}, "\n")

const summaryInstruction = "Genera un resumen ejecutivo del contexto con riesgos, oportunidades y próximos pasos."

// noContextAnswer is returned verbatim when retrieval yields nothing at all.
const noContextAnswer = "No encontré información relevante para responder todavía. " +
	"Puedes cargar conocimiento con POST /api/knowledge o POST /api/knowledge/url, " +
	"buscar con POST /api/knowledge/search o POST /api/search/query, " +
	"e ingerir interacciones con /api/ingest/*."

// Dispatcher hands newly created records to the analysis pipeline.
type Dispatcher interface {
	Dispatch(ctx context.Context, table, id string)
}

type ChatRequest struct {
	SessionID string   `json:"sessionId,omitempty"`
	Question  string   `json:"question"`
	CompanyID string   `json:"companyId,omitempty"`
	ContactID string   `json:"contactId,omitempty"`
	TopK      int      `json:"topK,omitempty"`
	Tools     []string `json:"tools,omitempty"`
	Action    *Action  `json:"action,omitempty"`
}

type Action struct {
	Type    string        `json:"type"`
	Payload ActionPayload `json:"payload"`
}

type ActionPayload struct {
	Title             string         `json:"title,omitempty"`
	Description       string         `json:"description,omitempty"`
	Priority          model.Priority `json:"priority,omitempty"`
	DueDate           string         `json:"dueDate,omitempty"`
	CompanyID         string         `json:"companyId,omitempty"`
	AssigneeContactID string         `json:"assigneeContactId,omitempty"`
	AlertID           string         `json:"alertId,omitempty"`
}

// ActionResult reports what a chat action did. Exactly one field is set.
type ActionResult struct {
	WorkItem      *model.WorkItem `json:"workItem,omitempty"`
	ResolvedAlert string          `json:"resolvedAlert,omitempty"`
	Summary       bool            `json:"summary,omitempty"`
}

type ChatResponse struct {
	SessionID string         `json:"sessionId"`
	Answer    string         `json:"answer"`
	Sources   []Result       `json:"sources"`
	Tools     map[string]any `json:"tools,omitempty"`
	Action    *ActionResult  `json:"action,omitempty"`
}

// WithDispatcher routes work items created by chat actions to analysis.
func (s *Service) WithDispatcher(d Dispatcher) *Service {
	s.dispatch = d
	return s
}

// Chat answers one question within a session, creating the session when
// none is given. Both turns are persisted.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, fmt.Errorf("%w: question es requerido", model.ErrValidation)
	}
	if s.responder == nil || !s.responder.Available() {
		chatTurns.WithLabelValues("unavailable").Inc()
		return nil, llm.ErrModelUnavailable
	}

	session, err := s.session(ctx, req, question)
	if err != nil {
		return nil, err
	}
	if _, err := s.store.Chat().AppendMessage(ctx, &model.ChatMessage{
		SessionID: session.ID,
		Role:      model.RoleUser,
		Content:   question,
	}); err != nil {
		return nil, fmt.Errorf("store user message: %w", err)
	}

	resp := &ChatResponse{SessionID: session.ID, Sources: []Result{}}
	if req.Action != nil {
		res, err := s.runAction(ctx, req, question)
		if err != nil {
			return nil, err
		}
		resp.Action = res
	}

	vec, err := s.embedQuestion(ctx, question)
	if err != nil {
		return nil, err
	}
	if len(vec) > 0 {
		matches, err := s.store.Contexts().Match(ctx, model.MatchQuery{
			Embedding: vec,
			Count:     clampTopK(req.TopK),
			CompanyID: req.CompanyID,
			ContactID: req.ContactID,
		})
		if err != nil {
			s.log.Warn().Err(err).Msg("context match failed")
		}
		for _, m := range matches {
			resp.Sources = append(resp.Sources, fromMatch(m))
		}
	}
	if len(resp.Sources) == 0 {
		if fb := s.fallbackSources(ctx, question, req.CompanyID); len(fb) > 0 {
			resp.Sources = fb
		}
	}

	toolTexts, toolData := s.runTools(ctx, req, vec)
	if len(toolData) > 0 {
		resp.Tools = toolData
	}

	contextText := buildContextText(resp.Sources, toolTexts)
	if contextText == "" {
		resp.Answer = noContextAnswer
		if err := s.finish(ctx, session.ID, resp, req.Tools); err != nil {
			return nil, err
		}
		chatTurns.WithLabelValues("no_context").Inc()
		return resp, nil
	}

	history, err := s.store.Chat().ListMessages(ctx, session.ID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("load history: %w", err)
	}
	turns := make([]llm.Turn, 0, len(history)+1)
	for _, m := range history {
		turns = append(turns, llm.Turn{Role: m.Role, Text: m.Content})
	}
	if resp.Action != nil && resp.Action.Summary {
		turns = append(turns, llm.Turn{Role: model.RoleUser, Text: summaryInstruction})
	}

	answer, err := s.responder.GenerateResponse(ctx, llm.ChatRequest{
		SystemPrompt: systemPrompt,
		History:      turns,
		ContextText:  contextText,
	})
	if err != nil {
		chatTurns.WithLabelValues("error").Inc()
		return nil, fmt.Errorf("generate answer: %w", err)
	}
	resp.Answer = strings.TrimSpace(answer)
	if err := s.finish(ctx, session.ID, resp, req.Tools); err != nil {
		return nil, err
	}
	chatTurns.WithLabelValues("answered").Inc()
	return resp, nil
}

// History returns the newest messages of a session in chronological order.
func (s *Service) History(ctx context.Context, sessionID string, limit int) ([]*model.ChatMessage, error) {
	if _, err := s.store.Chat().GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	return s.store.Chat().ListMessages(ctx, sessionID, limit)
}

func (s *Service) session(ctx context.Context, req ChatRequest, question string) (*model.ChatSession, error) {
	if req.SessionID != "" {
		sess, err := s.store.Chat().GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, fmt.Errorf("chat session %s: %w", req.SessionID, err)
		}
		return sess, nil
	}
	sess, err := s.store.Chat().CreateSession(ctx, &model.ChatSession{
		Title:     truncateRunes(question, 80),
		CompanyID: req.CompanyID,
		ContactID: req.ContactID,
	})
	if err != nil {
		return nil, fmt.Errorf("create chat session: %w", err)
	}
	return sess, nil
}

func (s *Service) runAction(ctx context.Context, req ChatRequest, question string) (*ActionResult, error) {
	p := req.Action.Payload
	switch req.Action.Type {
	case ActionCreateWorkItem:
		title := strings.TrimSpace(p.Title)
		if title == "" {
			title = truncateRunes(question, 64)
		}
		priority := p.Priority
		if priority == "" {
			priority = model.PriorityMedium
		}
		companyID := p.CompanyID
		if companyID == "" {
			companyID = req.CompanyID
		}
		w := &model.WorkItem{
			Title:             title,
			Description:       p.Description,
			Status:            model.StatusPending,
			Priority:          priority,
			CompanyID:         companyID,
			AssigneeContactID: p.AssigneeContactID,
			Data:              map[string]any{"source": "chat_action", "question": question},
		}
		if p.DueDate != "" {
			due, ok := model.ParseDate(p.DueDate)
			if !ok {
				return nil, fmt.Errorf("%w: dueDate inválida", model.ErrValidation)
			}
			w.DueDate = &due
		}
		created, err := s.store.WorkItems().Create(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("create work item: %w", err)
		}
		if s.dispatch != nil {
			s.dispatch.Dispatch(ctx, "work_items", created.ID)
		}
		return &ActionResult{WorkItem: created}, nil
	case ActionResolveAlert:
		if p.AlertID == "" {
			return nil, fmt.Errorf("%w: alertId es requerido", model.ErrValidation)
		}
		if s.alerts == nil {
			return nil, errors.New("alerts unavailable")
		}
		if err := s.alerts.ResolveByID(ctx, p.AlertID); err != nil {
			return nil, fmt.Errorf("resolve alert: %w", err)
		}
		return &ActionResult{ResolvedAlert: p.AlertID}, nil
	case ActionGenerateSummary:
		return &ActionResult{Summary: true}, nil
	default:
		return nil, fmt.Errorf("%w: acción desconocida %q", model.ErrValidation, req.Action.Type)
	}
}

// embedQuestion degrades to no vector on any failure except a rejected
// credential, which the caller must surface.
func (s *Service) embedQuestion(ctx context.Context, question string) ([]float32, error) {
	if s.embedder == nil {
		return nil, nil
	}
	vec, err := s.embedder.Embed(ctx, question, llm.TaskRetrievalQuery)
	if err != nil {
		if errors.Is(err, llm.ErrInvalidCredential) {
			return nil, err
		}
		s.log.Warn().Err(err).Msg("question embedding failed; using fallback sources")
		return nil, nil
	}
	return vec, nil
}

func (s *Service) fallbackSources(ctx context.Context, question, companyID string) []Result {
	var out []Result
	fresh, err := s.store.FreshData().List(ctx, store.ListOptions{Limit: 5})
	if err != nil {
		s.log.Warn().Err(err).Msg("fresh data fallback failed")
	}
	for i, f := range fresh {
		out = append(out, Result{
			ID:        f.ID,
			Type:      model.ContextFreshData,
			SourceID:  f.ID,
			CompanyID: f.CompanyID,
			Text:      formatFreshData(i+1, f),
			Metadata:  map[string]any{"source": f.Source, "topic": f.Topic},
		})
	}
	for _, e := range s.keywordKnowledge(ctx, question, companyID) {
		created := e.CreatedAt
		out = append(out, Result{
			ID:        e.ID,
			Type:      model.ContextKnowledge,
			SourceID:  e.ID,
			CompanyID: e.CompanyID,
			Text:      e.Title + "\n\n" + e.Content,
			Metadata:  map[string]any{"title": e.Title},
			CreatedAt: &created,
		})
	}
	return out
}

func formatFreshData(n int, f *model.FreshData) string {
	date := "sin fecha"
	if f.PublishedAt != nil {
		date = f.PublishedAt.Format("2006-01-02")
	}
	var b strings.Builder
	fmt.Fprintf(&b, "FreshData %d: %s (%s)\n", n, f.Title, date)
	fmt.Fprintf(&b, "Fuente: %s\n", f.Source)
	fmt.Fprintf(&b, "Tema: %s\n", f.Topic)
	fmt.Fprintf(&b, "Resumen: %s", f.Summary)
	return b.String()
}

func (s *Service) keywordKnowledge(ctx context.Context, question, companyID string) []*model.KnowledgeEntry {
	const limit = 5
	words := keywords(question, 3)
	if len(words) == 0 {
		words = []string{truncateRunes(question, 50)}
	}
	seen := make(map[string]bool)
	var out []*model.KnowledgeEntry
	for _, w := range words {
		entries, err := s.store.Knowledge().Search(ctx, w, companyID, limit)
		if err != nil {
			s.log.Warn().Err(err).Str("keyword", w).Msg("knowledge keyword scan failed")
			continue
		}
		for _, e := range entries {
			if seen[e.ID] || len(out) >= limit {
				continue
			}
			seen[e.ID] = true
			out = append(out, e)
		}
	}
	return out
}

// keywords returns up to n words of at least four letters, in order.
func keywords(text string, n int) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < 4 {
			continue
		}
		out = append(out, f)
		if len(out) == n {
			break
		}
	}
	return out
}

func (s *Service) runTools(ctx context.Context, req ChatRequest, vec []float32) ([]string, map[string]any) {
	var texts []string
	data := make(map[string]any)
	for _, tool := range req.Tools {
		switch tool {
		case toolAlerts:
			if s.alerts == nil {
				continue
			}
			page, err := s.alerts.List(ctx, model.AlertFilter{
				Status:    model.AlertOpen,
				CompanyID: req.CompanyID,
				ContactID: req.ContactID,
				Limit:     5,
			})
			if err != nil {
				s.log.Warn().Err(err).Msg("alerts tool failed")
				continue
			}
			data[toolAlerts] = page.Data
			if text := formatAlerts(page.Data); text != "" {
				texts = append(texts, text)
			}
		case toolKnowledge:
			if len(vec) == 0 {
				continue
			}
			matches, err := s.store.Contexts().Match(ctx, model.MatchQuery{
				Embedding: vec,
				Count:     5,
				Type:      model.ContextKnowledge,
				CompanyID: req.CompanyID,
			})
			if err != nil {
				s.log.Warn().Err(err).Msg("knowledge tool failed")
				continue
			}
			hits := make([]Result, len(matches))
			for i, m := range matches {
				hits[i] = fromMatch(m)
			}
			data[toolKnowledge] = hits
			if len(hits) > 0 {
				texts = append(texts, "Conocimiento relacionado:\n"+formatSources(hits))
			}
		default:
			s.log.Debug().Str("tool", tool).Msg("unknown chat tool ignored")
		}
	}
	return texts, data
}

func formatAlerts(alerts []*model.Alert) string {
	if len(alerts) == 0 {
		return ""
	}
	lines := make([]string, len(alerts))
	for i, a := range alerts {
		lines[i] = fmt.Sprintf("[Alert %d] %s: %s (entity: %s %s)",
			i+1, strings.ToUpper(string(a.Severity)), a.Message, a.EntityType, a.EntityID)
	}
	return "Alertas abiertas:\n" + strings.Join(lines, "\n")
}

func formatSources(sources []Result) string {
	blocks := make([]string, len(sources))
	for i, r := range sources {
		header := fmt.Sprintf("[%d] %s", i+1, r.Type)
		if r.Similarity != nil {
			header += fmt.Sprintf(" (%.3f)", *r.Similarity)
		}
		var b strings.Builder
		b.WriteString(header)
		if len(r.Metadata) > 0 {
			if meta, err := json.Marshal(r.Metadata); err == nil {
				b.WriteString("\n")
				b.Write(meta)
			}
		}
		b.WriteString("\n")
		b.WriteString(truncateRunes(r.Text, snippetRunes))
		blocks[i] = b.String()
	}
	return strings.Join(blocks, "\n\n")
}

func buildContextText(sources []Result, toolTexts []string) string {
	var parts []string
	if len(sources) > 0 {
		parts = append(parts, formatSources(sources))
	}
	parts = append(parts, toolTexts...)
	return strings.Join(parts, contextDivider)
}

func (s *Service) finish(ctx context.Context, sessionID string, resp *ChatResponse, tools []string) error {
	sourceIDs := make([]string, len(resp.Sources))
	for i, r := range resp.Sources {
		sourceIDs[i] = r.ID
	}
	meta := map[string]any{"sources": sourceIDs, "tools": tools}
	if _, err := s.store.Chat().AppendMessage(ctx, &model.ChatMessage{
		SessionID: sessionID,
		Role:      model.RoleAssistant,
		Content:   resp.Answer,
		Metadata:  meta,
	}); err != nil {
		return fmt.Errorf("store assistant message: %w", err)
	}
	if len(resp.Tools) > 0 {
		if err := s.store.Chat().LogToolCall(ctx, &model.ToolCall{
			SessionID: sessionID,
			Tool:      "context_tools",
			Input:     tools,
			Output:    resp.Tools,
		}); err != nil {
			s.log.Warn().Err(err).Msg("tool call log failed")
		}
	}
	return nil
}

func clampTopK(k int) int {
	if k <= 0 {
		return defaultTopK
	}
	return min(k, maxMatches)
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
