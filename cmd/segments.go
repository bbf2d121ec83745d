// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/LeeDigitalWorks/tams/pkg/deletion"
	"github.com/LeeDigitalWorks/tams/pkg/logger"
	"github.com/LeeDigitalWorks/tams/pkg/segments"
	"github.com/LeeDigitalWorks/tams/pkg/service"
	"github.com/LeeDigitalWorks/tams/pkg/taskqueue/handlers"
	"github.com/LeeDigitalWorks/tams/pkg/timerange"
	"github.com/LeeDigitalWorks/tams/pkg/types"

	"github.com/spf13/cobra"
)

// withService opens the backends, builds a service and runs fn with it.
func withService(cmd *cobra.Command, fn func(svc *service.Service) error) error {
	be, err := openBackends(cmd)
	if err != nil {
		return err
	}
	defer be.Close()

	cfg := service.DefaultConfig()
	cfg.DB = be.DB
	cfg.Queue = be.Queue
	svc, err := service.New(cfg)
	if err != nil {
		return err
	}
	defer svc.Close()
	return fn(svc)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func parseTimerangeFlag(cmd *cobra.Command) (*timerange.TimeRange, error) {
	raw, _ := cmd.Flags().GetString("timerange")
	if raw == "" {
		return nil, nil
	}
	tr, err := timerange.Parse(raw)
	if err != nil {
		return nil, &segments.ValidationError{Field: "timerange", Reason: "malformed", Err: err}
	}
	return &tr, nil
}

var segmentsCmd = &cobra.Command{
	Use:   "segments",
	Short: "Inspect and modify flow segments",
}

var segmentsListCmd = &cobra.Command{
	Use:   "list <flow_id>",
	Short: "List one page of a flow's segments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := parseTimerangeFlag(cmd)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		params := segments.SegmentQueryParams{Timerange: tr}
		params.ObjectID, _ = f.GetString("object_id")
		params.ReverseOrder, _ = f.GetBool("reverse_order")
		params.Page, _ = f.GetString("page")
		params.Limit, _ = f.GetInt("limit")

		return withService(cmd, func(svc *service.Service) error {
			res, err := svc.ListSegments(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			for k, v := range res.Headers() {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", k, v[0])
			}
			return printJSON(cmd.OutOrStdout(), res.Segments)
		})
	},
}

var segmentsPostCmd = &cobra.Command{
	Use:   "post <flow_id> <object_id> <timerange>",
	Short: "Add a segment to a flow",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := timerange.Parse(args[2])
		if err != nil {
			return &segments.ValidationError{Field: "timerange", Reason: "malformed", Err: err}
		}
		seg := &types.Segment{ObjectID: args[1], Timerange: tr}
		return withService(cmd, func(svc *service.Service) error {
			return svc.PostSegment(cmd.Context(), args[0], seg)
		})
	},
}

var segmentsDeleteCmd = &cobra.Command{
	Use:   "delete <flow_id>",
	Short: "Delete a flow's segments within a timerange",
	Long: `Delete the segments of a flow that intersect --timerange (default: all).
Deletes scoped by --object_id complete immediately. Otherwise a delete request
is submitted for the worker; --run executes it in this process instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		tr, err := parseTimerangeFlag(cmd)
		if err != nil {
			return err
		}
		f := cmd.Flags()
		params := service.DeleteParams{Timerange: tr}
		params.ObjectID, _ = f.GetString("object_id")
		params.CreatedBy, _ = f.GetString("created_by")
		run, _ := f.GetBool("run")

		return withService(cmd, func(svc *service.Service) error {
			res, err := svc.DeleteSegments(cmd.Context(), args[0], params)
			if err != nil {
				return err
			}
			return reportDelete(cmd, svc, res, run)
		})
	},
}

var segmentsTimerangeCmd = &cobra.Command{
	Use:   "timerange <flow_id>",
	Short: "Print the timerange spanned by a flow's segments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *service.Service) error {
			tr, err := svc.FlowTimerange(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), tr.String())
			return nil
		})
	},
}

var flowsCmd = &cobra.Command{
	Use:   "flows",
	Short: "Manage flows",
}

var flowsPutCmd = &cobra.Command{
	Use:   "put <flow_id>",
	Short: "Create or update a flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f := cmd.Flags()
		flow := &types.Flow{ID: args[0]}
		flow.SourceID, _ = f.GetString("source_id")
		flow.Container, _ = f.GetString("container")
		flow.ReadOnly, _ = f.GetBool("read_only")
		return withService(cmd, func(svc *service.Service) error {
			if err := svc.PutFlow(cmd.Context(), flow); err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), flow)
		})
	},
}

var flowsDeleteCmd = &cobra.Command{
	Use:   "delete <flow_id>",
	Short: "Delete a flow and all of its segments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		createdBy, _ := cmd.Flags().GetString("created_by")
		run, _ := cmd.Flags().GetBool("run")
		return withService(cmd, func(svc *service.Service) error {
			res, err := svc.DeleteFlow(cmd.Context(), args[0], createdBy)
			if err != nil {
				return err
			}
			return reportDelete(cmd, svc, res, run)
		})
	},
}

// reportDelete prints the outcome of a delete. With run set, a pending
// request is driven to completion in-process, one budget at a time.
func reportDelete(cmd *cobra.Command, svc *service.Service, res *service.DeleteResult, run bool) error {
	out := cmd.OutOrStdout()
	if !res.Pending() {
		return printJSON(out, map[string]any{"status": "done", "deleted": res.Deleted})
	}
	if !run {
		return printJSON(out, res.Request)
	}

	engine := svc.Engine()
	req := res.Request
	for !req.Terminal() {
		result, err := engine.Run(cmd.Context(), req, deletion.Until(time.Now().Add(handlers.DefaultInvocationBudget)))
		if err != nil {
			return err
		}
		logger.Info().
			Str("delete_request_id", req.ID).
			Str("status", string(result.Status)).
			Int("deleted", result.Deleted).
			Msg("delete request step")
	}
	return printJSON(out, req)
}

var deleteRequestCmd = &cobra.Command{
	Use:   "delete-request",
	Short: "Inspect delete requests",
}

var deleteRequestGetCmd = &cobra.Command{
	Use:   "get <id>",
	Short: "Show a delete request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withService(cmd, func(svc *service.Service) error {
			req, err := svc.GetDeleteRequest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), req)
		})
	},
}

var deleteRequestListCmd = &cobra.Command{
	Use:   "list [flow_id]",
	Short: "List delete requests, optionally for one flow",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		flowID := ""
		if len(args) == 1 {
			flowID = args[0]
		}
		return withService(cmd, func(svc *service.Service) error {
			reqs, err := svc.ListDeleteRequests(cmd.Context(), flowID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), reqs)
		})
	},
}

func init() {
	rootCmd.AddCommand(segmentsCmd, flowsCmd, deleteRequestCmd)
	segmentsCmd.AddCommand(segmentsListCmd, segmentsPostCmd, segmentsDeleteCmd, segmentsTimerangeCmd)
	flowsCmd.AddCommand(flowsPutCmd, flowsDeleteCmd)
	deleteRequestCmd.AddCommand(deleteRequestGetCmd, deleteRequestListCmd)

	lf := segmentsListCmd.Flags()
	lf.String("timerange", "", "Only segments intersecting this timerange")
	lf.String("object_id", "", "Only segments referencing this object")
	lf.Bool("reverse_order", false, "Newest segments first")
	lf.String("page", "", "Page token from a previous listing")
	lf.Int("limit", segments.DefaultPageLimit, "Page size")

	df := segmentsDeleteCmd.Flags()
	df.String("timerange", "", "Delete segments intersecting this timerange")
	df.String("object_id", "", "Only delete segments referencing this object")
	df.String("created_by", "", "Recorded on the delete request")
	df.Bool("run", false, "Run the delete request in this process")

	pf := flowsPutCmd.Flags()
	pf.String("source_id", "", "Source the flow belongs to")
	pf.String("container", "", "Media container mime type")
	pf.Bool("read_only", false, "Reject segment writes and deletes")

	ff := flowsDeleteCmd.Flags()
	ff.String("created_by", "", "Recorded on the delete request")
	ff.Bool("run", false, "Run the delete request in this process")
}
