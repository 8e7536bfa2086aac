package collector

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/optiinfra/optiinfra/internal/storage/relational"
)

func TestSummarizeStatus(t *testing.T) {
	tests := []struct {
		name       string
		collected  int
		rejected   int
		partial    bool
		errSummary string
		wantStatus string
		wantError  string
	}{
		{
			name:       "clean pull with rows is success",
			collected:  42,
			wantStatus: relational.CollectionSuccess,
		},
		{
			name:       "clean pull with zero rows is partial, never success",
			collected:  0,
			wantStatus: relational.CollectionPartial,
			wantError:  "no rows in collection window",
		},
		{
			name:       "rows plus errors is partial",
			collected:  10,
			errSummary: "cost: throttled",
			wantStatus: relational.CollectionPartial,
			wantError:  "cost: throttled",
		},
		{
			name:       "rows plus rejected rows is partial",
			collected:  10,
			rejected:   3,
			partial:    true,
			wantStatus: relational.CollectionPartial,
		},
		{
			name:       "no rows and errors is failed",
			collected:  0,
			errSummary: "cost: credential expired",
			wantStatus: relational.CollectionFailed,
			wantError:  "cost: credential expired",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, errSummary := summarize(tt.collected, tt.rejected, tt.partial, tt.errSummary)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantError, errSummary)
		})
	}
}
