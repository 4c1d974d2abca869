package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(
		healthCmd(),
		ingestCmd(),
		noteCmd(),
		searchCmd(),
		chatCmd(),
		alertsCmd(),
		analyzeCmd(),
		reindexCmd(),
		knowledgeCmd(),
		crmCmd(),
	)
}

func healthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show service health",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().get("/api/health", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
}

func ingestCmd() *cobra.Command {
	ingest := &cobra.Command{Use: "ingest", Short: "Ingest channel payloads"}

	for _, channel := range []string{"email", "slack", "whatsapp"} {
		channel := channel
		var file string
		c := &cobra.Command{
			Use:   channel,
			Short: fmt.Sprintf("Ingest a %s JSON payload", channel),
			RunE: func(cmd *cobra.Command, args []string) error {
				body, err := readJSONFile(file, cmd.InOrStdin())
				if err != nil {
					return err
				}
				data, err := client().post("/api/ingest/"+channel, body)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			},
		}
		c.Flags().StringVarP(&file, "file", "f", "-", "JSON payload file, - for stdin")
		ingest.AddCommand(c)
	}

	var rawFile, company string
	raw := &cobra.Command{
		Use:   "raw-email",
		Short: "Ingest an RFC 5322 message",
		RunE: func(cmd *cobra.Command, args []string) error {
			msg, err := readFile(rawFile, cmd.InOrStdin())
			if err != nil {
				return err
			}
			var q map[string]string
			if company != "" {
				q = map[string]string{"company": company}
			}
			data, err := client().postRaw("/api/ingest/email/raw", q, msg, "message/rfc822")
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	raw.Flags().StringVarP(&rawFile, "file", "f", "-", "Message file, - for stdin")
	raw.Flags().StringVar(&company, "company", "", "Company name or domain override")
	ingest.AddCommand(raw)
	return ingest
}

func noteCmd() *cobra.Command {
	var companyID, contactID, author string
	c := &cobra.Command{
		Use:   "note TEXT",
		Short: "Add a manual note",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().post("/api/notes", map[string]any{
				"text":      args[0],
				"companyId": companyID,
				"contactId": contactID,
				"author":    author,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	c.Flags().StringVar(&companyID, "company", "", "Company ID")
	c.Flags().StringVar(&contactID, "contact", "", "Contact ID")
	c.Flags().StringVar(&author, "author", "", "Note author")
	return c
}

func searchCmd() *cobra.Command {
	var typ, companyID, contactID string
	var limit int
	c := &cobra.Command{
		Use:   "search QUERY",
		Short: "Semantic search over AI contexts",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(client(), args[0], typ, companyID, contactID, limit, cmd.OutOrStdout())
		},
	}
	c.Flags().StringVarP(&typ, "type", "t", "", "Context type filter")
	c.Flags().StringVar(&companyID, "company", "", "Company ID")
	c.Flags().StringVar(&contactID, "contact", "", "Contact ID")
	c.Flags().IntVarP(&limit, "limit", "k", 8, "Maximum results")
	return c
}

func runSearch(c *apiClient, query, typ, companyID, contactID string, limit int, out io.Writer) error {
	if query == "" {
		return fmt.Errorf("query cannot be empty")
	}
	data, err := c.post("/api/search/query", map[string]any{
		"query":     query,
		"type":      typ,
		"companyId": companyID,
		"contactId": contactID,
		"limit":     limit,
	})
	if err != nil {
		return err
	}
	return printJSON(out, data)
}

func chatCmd() *cobra.Command {
	var session, companyID, contactID string
	var tools []string
	var topK int
	c := &cobra.Command{
		Use:   "chat QUESTION",
		Short: "Ask the assistant a question",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().post("/api/chat", map[string]any{
				"sessionId": session,
				"question":  args[0],
				"companyId": companyID,
				"contactId": contactID,
				"topK":      topK,
				"tools":     tools,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	c.Flags().StringVarP(&session, "session", "s", "", "Continue an existing session")
	c.Flags().StringVar(&companyID, "company", "", "Company ID")
	c.Flags().StringVar(&contactID, "contact", "", "Contact ID")
	c.Flags().StringSliceVar(&tools, "tool", nil, "Context tools to run (alerts, knowledge)")
	c.Flags().IntVarP(&topK, "topk", "k", 5, "Number of contexts to retrieve")
	return c
}

func alertsCmd() *cobra.Command {
	alerts := &cobra.Command{Use: "alerts", Short: "Alert operations"}

	var status, severity, companyID string
	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List alerts",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := map[string]string{"limit": strconv.Itoa(limit)}
			if status != "" {
				q["status"] = status
			}
			if severity != "" {
				q["severity"] = severity
			}
			if companyID != "" {
				q["companyId"] = companyID
			}
			data, err := client().get("/api/alerts", q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	list.Flags().StringVar(&status, "status", "open", "Alert status")
	list.Flags().StringVar(&severity, "severity", "", "Alert severity")
	list.Flags().StringVar(&companyID, "company", "", "Company ID")
	list.Flags().IntVar(&limit, "limit", 50, "Page size")
	alerts.AddCommand(list)

	alerts.AddCommand(&cobra.Command{
		Use:   "resolve ALERT_ID",
		Short: "Resolve an alert",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().post("/api/alerts/"+args[0]+"/resolve", nil)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	})
	return alerts
}

func analyzeCmd() *cobra.Command {
	var id string
	var limit int
	c := &cobra.Command{
		Use:   "analyze TYPE",
		Short: "Re-run analysis for one record or a batch of a type",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().post("/api/ai/analyze", map[string]any{
				"type":  args[0],
				"id":    id,
				"limit": limit,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	c.Flags().StringVar(&id, "id", "", "Record ID; empty analyses a batch")
	c.Flags().IntVar(&limit, "limit", 0, "Batch size")
	return c
}

func reindexCmd() *cobra.Command {
	var companyID string
	var limit int
	c := &cobra.Command{
		Use:   "reindex [TARGET]",
		Short: "Rebuild AI contexts (interactions, work_items, fresh_data, all)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "all"
			if len(args) == 1 {
				target = args[0]
			}
			data, err := client().post("/api/admin/reindex", map[string]any{
				"target":    target,
				"limit":     limit,
				"companyId": companyID,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	c.Flags().StringVar(&companyID, "company", "", "Restrict to one company")
	c.Flags().IntVar(&limit, "limit", 0, "Records per type")
	return c
}

func knowledgeCmd() *cobra.Command {
	kb := &cobra.Command{Use: "knowledge", Short: "Knowledge base operations"}

	var title, file, companyID string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a document to the knowledge base",
		RunE: func(cmd *cobra.Command, args []string) error {
			content, err := readFile(file, cmd.InOrStdin())
			if err != nil {
				return err
			}
			data, err := client().post("/api/knowledge", map[string]any{
				"title":     title,
				"content":   string(content),
				"companyId": companyID,
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	add.Flags().StringVar(&title, "title", "", "Document title")
	add.Flags().StringVarP(&file, "file", "f", "-", "Content file, - for stdin")
	add.Flags().StringVar(&companyID, "company", "", "Company ID")
	_ = add.MarkFlagRequired("title")
	kb.AddCommand(add)

	var urlCompany string
	kb.AddCommand(func() *cobra.Command {
		c := &cobra.Command{
			Use:   "add-url URL",
			Short: "Fetch a page and add it to the knowledge base",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := client().post("/api/knowledge/url", map[string]any{"url": args[0], "companyId": urlCompany})
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			},
		}
		c.Flags().StringVar(&urlCompany, "company", "", "Company ID")
		return c
	}())

	kb.AddCommand(&cobra.Command{
		Use:   "search QUERY",
		Short: "Search the knowledge base",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := client().post("/api/knowledge/search", map[string]any{"query": args[0]})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	})

	kb.AddCommand(&cobra.Command{
		Use:   "delete ENTRY_ID",
		Short: "Delete a knowledge entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := client().delete("/api/knowledge/" + args[0])
			return err
		},
	})
	return kb
}

func readFile(path string, stdin io.Reader) ([]byte, error) {
	if path == "" || path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

// readJSONFile returns the file as a raw JSON value after checking it parses.
func readJSONFile(path string, stdin io.Reader) (json.RawMessage, error) {
	data, err := readFile(path, stdin)
	if err != nil {
		return nil, err
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s: not valid JSON", path)
	}
	return json.RawMessage(data), nil
}
