package tools

import (
	"mcpindex/internal/catalog"
	"mcpindex/internal/feedback"
	"mcpindex/internal/logging"
	"mcpindex/internal/metrics"
	"mcpindex/internal/review"
)

// Deps are the components the standard tool set is built from. Feedback
// and Review may be nil, which leaves their tools out.
type Deps struct {
	Catalog     *catalog.Catalog
	Usage       *catalog.UsageTracker
	Metrics     *metrics.Recorder
	Feedback    *feedback.Store
	Review      *review.Engine
	Logger      *logging.AppLogger
	MaxFileSize int64
	Version     string
}

// Build returns a registry holding every tool.
func Build(d Deps) *Registry {
	r := NewRegistry(d.Catalog.MutationEnabled(), d.Metrics, d.Logger)

	r.Add(NewDispatchTool(d.Catalog, d.Usage), KindRead)
	r.Add(NewGovernanceHashTool(d.Catalog), KindRead)
	r.Add(NewIntegrityVerifyTool(d.Catalog), KindRead)
	r.Add(NewGraphExportTool(d.Catalog), KindRead)
	r.Add(NewMetricsSnapshotTool(d.Metrics), KindRead)
	r.Add(NewHealthCheckTool(d.Catalog, d.Version), KindRead)
	r.Add(NewMetaTool(r), KindRead)
	if d.Usage != nil {
		r.Add(NewUsageTrackTool(d.Catalog, d.Usage), KindWrite)
		r.Add(NewUsageHotsetTool(d.Catalog, d.Usage), KindRead)
		r.Add(NewUsageFlushTool(d.Usage), KindMutation)
	}
	if d.Review != nil {
		r.Add(NewPromptReviewTool(d.Review), KindRead)
	}
	if d.Feedback != nil {
		r.Add(NewFeedbackSubmitTool(d.Feedback), KindWrite)
		r.Add(NewFeedbackListTool(d.Feedback), KindRead)
		r.Add(NewFeedbackUpdateTool(d.Feedback), KindMutation)
	}

	r.Add(NewAddTool(d.Catalog), KindMutation)
	r.Add(NewImportTool(d.Catalog, d.MaxFileSize), KindMutation)
	r.Add(NewRemoveTool(d.Catalog, d.Usage), KindMutation)
	r.Add(NewReloadTool(d.Catalog), KindMutation)
	r.Add(NewGroomTool(d.Catalog), KindMutation)
	r.Add(NewGovernanceUpdateTool(d.Catalog), KindMutation)
	return r
}
