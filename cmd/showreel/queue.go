package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"showreel/internal/api"
)

func newQueueCommand(a *app) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage pipeline items",
	}
	queueCmd.AddCommand(
		newQueueListCommand(a),
		newQueueShowCommand(a),
		newQueueAddCommand(a),
		newQueueApproveCommand(a),
		newQueueRejectCommand(a),
		newQueueRequeueCommand(a),
		newQueueRemoveCommand(a),
		newQueueClearCommand(a),
	)
	return queueCmd
}

func parseItemID(arg string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("item id must be a positive integer, got %q", arg)
	}
	return id, nil
}

func newQueueListCommand(a *app) *cobra.Command {
	var status string
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List items, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			items, err := a.client.ListItems(cmd.Context(), status, limit)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(items)
			}
			if len(items.Items) == 0 {
				fmt.Println("queue is empty")
				return nil
			}
			renderItemsTable(os.Stdout, items.Items)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "filter by stage (comma separated)")
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum items to list (0 for all)")
	return cmd
}

func newQueueShowCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show one item in full",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			if err := a.connect(); err != nil {
				return err
			}
			item, err := a.client.GetItem(cmd.Context(), id)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(item)
			}
			printItem(os.Stdout, item)
			return nil
		},
	}
}

func newQueueAddCommand(a *app) *cobra.Command {
	var description, owner string
	cmd := &cobra.Command{
		Use:   "add <title>",
		Short: "Submit a new idea for approval",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			item, err := a.client.CreateItem(cmd.Context(), api.CreateItemRequest{
				Owner:       owner,
				Title:       args[0],
				Description: description,
			})
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(item)
			}
			fmt.Printf("created item %d (%s)\n", item.ID, item.Stage)
			return nil
		},
	}
	cmd.Flags().StringVar(&description, "description", "", "longer idea description")
	cmd.Flags().StringVar(&owner, "owner", "", "who submitted the idea")
	return cmd
}

func newQueueApproveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "approve <id>",
		Short: "Approve a pending item and start the pipeline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			if err := a.connect(); err != nil {
				return err
			}
			item, err := a.client.Approve(cmd.Context(), id)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(item)
			}
			fmt.Printf("item %d approved\n", item.ID)
			return nil
		},
	}
}

func newQueueRejectCommand(a *app) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reject <id>",
		Short: "Reject a pending item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			if err := a.connect(); err != nil {
				return err
			}
			item, err := a.client.Reject(cmd.Context(), id, reason)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(item)
			}
			fmt.Printf("item %d rejected\n", item.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "why the idea was declined")
	return cmd
}

func newQueueRequeueCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "requeue <id>",
		Short: "Put a failed or unrecoverable item back in play",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			if err := a.connect(); err != nil {
				return err
			}
			item, err := a.client.Requeue(cmd.Context(), id)
			if err != nil {
				return err
			}
			if a.jsonOut {
				return a.printJSON(item)
			}
			fmt.Printf("item %d requeued at stage %s\n", item.ID, item.LastFailedStage)
			return nil
		},
	}
}

func newQueueRemoveCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Delete an item",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseItemID(args[0])
			if err != nil {
				return err
			}
			if err := a.connect(); err != nil {
				return err
			}
			if err := a.client.Remove(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Printf("item %d removed\n", id)
			return nil
		},
	}
}

func newQueueClearCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-completed",
		Short: "Delete published and rejected items",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.connect(); err != nil {
				return err
			}
			removed, err := a.client.ClearCompleted(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("removed %d items\n", removed)
			return nil
		},
	}
}
