package main

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"
)

func crmCmd() *cobra.Command {
	crm := &cobra.Command{Use: "crm", Short: "CRM views and work items"}

	for _, kind := range []string{"company", "contact"} {
		kind := kind
		crm.AddCommand(&cobra.Command{
			Use:   kind + " ID",
			Short: fmt.Sprintf("Show the %s overview", kind),
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := client().get("/api/crm/"+kind+"s/"+args[0]+"/overview", nil)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), data)
			},
		})
	}

	var companyID, contactID string
	var limit int
	timeline := &cobra.Command{
		Use:   "timeline",
		Short: "Show interactions, work items and signals newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := map[string]string{"limit": strconv.Itoa(limit)}
			if companyID != "" {
				q["companyId"] = companyID
			}
			if contactID != "" {
				q["contactId"] = contactID
			}
			data, err := client().get("/api/crm/timeline", q)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), data)
		},
	}
	timeline.Flags().StringVar(&companyID, "company", "", "Company ID")
	timeline.Flags().StringVar(&contactID, "contact", "", "Contact ID")
	timeline.Flags().IntVar(&limit, "limit", 50, "Maximum entries")
	crm.AddCommand(timeline)

	var req workItemFlags
	create := &cobra.Command{
		Use:   "work-item TITLE",
		Short: "Create a work item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.title = args[0]
			return runCreateWorkItem(client(), req, cmd.OutOrStdout())
		},
	}
	create.Flags().StringVar(&req.companyID, "company", "", "Company ID")
	create.Flags().StringVar(&req.assigneeID, "assignee", "", "Assignee contact ID")
	create.Flags().StringVar(&req.due, "due", "", "Due date (YYYY-MM-DD or RFC 3339)")
	create.Flags().StringVar(&req.priority, "priority", "", "low, medium, high or critical")
	crm.AddCommand(create)

	crm.AddCommand(&cobra.Command{
		Use:   "delete-context ID",
		Short: "Delete a search context",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := client().delete("/api/ai/contexts/" + args[0])
			return err
		},
	})
	return crm
}

type workItemFlags struct {
	title, companyID, assigneeID, due, priority string
}

func runCreateWorkItem(c *apiClient, f workItemFlags, out io.Writer) error {
	if f.title == "" {
		return fmt.Errorf("title cannot be empty")
	}
	body := map[string]any{"title": f.title}
	for k, v := range map[string]string{
		"companyId":         f.companyID,
		"assigneeContactId": f.assigneeID,
		"dueDate":           f.due,
		"priority":          f.priority,
	} {
		if v != "" {
			body[k] = v
		}
	}
	data, err := c.post("/api/work-items", body)
	if err != nil {
		return err
	}
	return printJSON(out, data)
}
