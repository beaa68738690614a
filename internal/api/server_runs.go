package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/dgnsrekt/chartshot/internal/report"
)

func registerRunHandlers(api huma.API, svc Service) {
	type runOutput struct {
		Body report.Run
	}
	huma.Register(api, huma.Operation{
		OperationID: "start-run",
		Method:      http.MethodPost,
		Path:        "/api/v1/runs",
		Summary:     "Run a chart capture",
		Description: "Loads the chart, prepares it and captures every symbol in order. Blocks until the run finishes and returns its report. Only one run may be active at a time.",
		Tags:        []string{"Runs"},
	}, func(ctx context.Context, input *struct {
		Body *struct {
			Symbols []string `json:"symbols,omitempty" doc:"Symbols to capture in order. Omit to use the configured STOCKS list."`
		}
	}) (*runOutput, error) {
		var symbols []string
		if input.Body != nil {
			symbols = input.Body.Symbols
		}
		rep, err := svc.Run(ctx, symbols)
		if err != nil {
			return nil, mapErr(err)
		}
		out := &runOutput{}
		out.Body = rep
		return out, nil
	})

	type listRunsOutput struct {
		Body struct {
			Runs []report.Run `json:"runs"`
		}
	}
	huma.Register(api, huma.Operation{OperationID: "list-runs", Method: http.MethodGet, Path: "/api/v1/runs", Summary: "List today's runs", Tags: []string{"Runs"}},
		func(ctx context.Context, input *struct{}) (*listRunsOutput, error) {
			runs, err := svc.ListRuns(ctx)
			if err != nil {
				return nil, mapErr(err)
			}
			out := &listRunsOutput{}
			out.Body.Runs = runs
			if out.Body.Runs == nil {
				out.Body.Runs = []report.Run{}
			}
			return out, nil
		})
}
