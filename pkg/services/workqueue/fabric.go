package workqueue

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/prsnl-labs/intel-engine/pkg/config"
)

// Queue names. The fabric is shared plant: every queue exists whether or
// not the current pipeline routes work to it, so operators see one stable
// topology across deployments.
const (
	QueueRepoAnalysis        = "repo_analysis"
	QueueFileProcessing      = "file_processing"
	QueueMediaProcessing     = "media_processing"
	QueueAIProcessing        = "ai_processing"
	QueueGeneralAnalysis     = "general_analysis"
	QueueInsightGeneration   = "insight_generation"
	QueuePackageIntelligence = "package_intelligence"
)

// QueueNames lists every queue in the fabric, in topology order.
var QueueNames = []string{
	QueueRepoAnalysis,
	QueueFileProcessing,
	QueueMediaProcessing,
	QueueAIProcessing,
	QueueGeneralAnalysis,
	QueueInsightGeneration,
	QueuePackageIntelligence,
}

// Fabric is the set of named work queues with per-queue worker limits.
type Fabric struct {
	queues map[string]*Queue
}

// NewFabric builds the full queue topology from configuration.
func NewFabric(workers config.QueueWorkers, retryConfig RetryConfig, logger *zap.Logger) *Fabric {
	limits := map[string]int{
		QueueRepoAnalysis:        workers.RepoAnalysis,
		QueueFileProcessing:      workers.FileProcessing,
		QueueMediaProcessing:     workers.MediaProcessing,
		QueueAIProcessing:        workers.AIProcessing,
		QueueGeneralAnalysis:     workers.GeneralAnalysis,
		QueueInsightGeneration:   workers.InsightGeneration,
		QueuePackageIntelligence: workers.PackageIntelligence,
	}

	queues := make(map[string]*Queue, len(limits))
	for name, limit := range limits {
		queues[name] = New(name, logger,
			WithStrategy(NewWorkerLimitStrategy(limit)),
			WithRetryConfig(retryConfig))
	}

	return &Fabric{queues: queues}
}

// Get returns the named queue.
func (f *Fabric) Get(name string) (*Queue, error) {
	q, ok := f.queues[name]
	if !ok {
		return nil, fmt.Errorf("unknown queue %q", name)
	}
	return q, nil
}

// Enqueue adds a task to the named queue.
func (f *Fabric) Enqueue(name string, task Task) error {
	q, err := f.Get(name)
	if err != nil {
		return err
	}
	if !q.Enqueue(task) {
		return fmt.Errorf("queue %q is cancelled", name)
	}
	return nil
}

// InFlight reports whether any queue holds a live task whose name
// contains the marker. Terminal tasks are pruned at completion, so a
// match means the work is genuinely pending or running.
func (f *Fabric) InFlight(marker string) bool {
	for _, q := range f.queues {
		for _, snapshot := range q.GetTasks() {
			if strings.Contains(snapshot.Name, marker) {
				return true
			}
		}
	}
	return false
}

// Progress returns per-queue progress keyed by queue name.
func (f *Fabric) Progress() map[string]Progress {
	out := make(map[string]Progress, len(f.queues))
	for name, q := range f.queues {
		out[name] = q.Progress()
	}
	return out
}

// Shutdown cancels every queue and waits for running tasks to finish,
// bounded by the context.
func (f *Fabric) Shutdown(ctx context.Context) error {
	for _, q := range f.queues {
		q.Cancel()
	}
	for _, q := range f.queues {
		if err := q.Wait(ctx); err != nil {
			return err
		}
	}
	return nil
}
