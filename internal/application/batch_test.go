package application

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hospital-supply/replenishment-service/pkg/logging"

	"github.com/hospital-supply/replenishment-service/internal/domain"
)

func TestProcessBatch(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)
	logger := logging.New(logging.DefaultConfig("batch-test"))
	b := NewBatchProcessor(p, 3, logger)

	reports := make([]*StockReportRequest, 6)
	for i := range reports {
		req := validRequest()
		req.ReportID = fmt.Sprintf("rpt-%03d", i)
		req.HospitalID = fmt.Sprintf("HOSP-%d", i)
		reports[i] = req
	}
	// One report with adequate stock, one invalid.
	reports[4].DaysOfSupply = floatPtr(6.0)
	reports[5].HospitalID = ""

	results := b.ProcessBatch(context.Background(), reports, domain.TransportAsynchronous)
	require.Len(t, results, 6)

	for i := 0; i < 4; i++ {
		require.NoError(t, results[i].Err, "report %d", i)
		assert.True(t, results[i].Outcome.OrderTriggered, "report %d", i)
	}

	require.NoError(t, results[4].Err)
	assert.False(t, results[4].Outcome.OrderTriggered)

	assert.Error(t, results[5].Err)
	assert.Nil(t, results[5].Outcome)

	assert.Len(t, ledger.orders, 4)
}

func TestProcessBatch_Empty(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)
	logger := logging.New(logging.DefaultConfig("batch-test"))
	b := NewBatchProcessor(p, 0, logger)

	results := b.ProcessBatch(context.Background(), nil, domain.TransportAsynchronous)
	assert.Empty(t, results)
}

func TestProcessBatch_Cancelled(t *testing.T) {
	ledger := newMemLedger()
	p := newTestPipeline(t, ledger)
	logger := logging.New(logging.DefaultConfig("batch-test"))
	b := NewBatchProcessor(p, 1, logger)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reports := []*StockReportRequest{validRequest(), validRequest()}
	results := b.ProcessBatch(ctx, reports, domain.TransportAsynchronous)

	// Every report gets exactly one of outcome or error, even when the
	// context is cancelled mid-batch.
	require.Len(t, results, 2)
	for i, r := range results {
		if r.Err == nil {
			assert.NotNil(t, r.Outcome, "result %d", i)
		} else {
			assert.Nil(t, r.Outcome, "result %d", i)
		}
	}
}
