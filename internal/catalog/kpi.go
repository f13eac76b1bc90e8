package catalog

import (
	"context"
	"time"

	"github.com/MarcoPoloResearchLab/deskadmin/internal/upstream"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const recordCountConcurrency = 4

// TableKPI is the record count of one table. Error is set when the count could not be fetched.
type TableKPI struct {
	Name    string `json:"name"`
	Records int    `json:"records"`
	Error   string `json:"error,omitempty"`
}

// BackendKPI aggregates the counts of one backend.
type BackendKPI struct {
	Backend      string     `json:"backend"`
	Fallback     bool       `json:"fallback"`
	Error        string     `json:"error,omitempty"`
	ErrorType    string     `json:"errorType,omitempty"`
	Tables       int        `json:"tables"`
	Attributes   int        `json:"attributes"`
	Associations int        `json:"associations"`
	Records      int        `json:"records"`
	TableCounts  []TableKPI `json:"tableCounts"`
}

// Dashboard is the KPI overview across backends.
type Dashboard struct {
	GeneratedAt time.Time    `json:"generatedAt"`
	Backends    []BackendKPI `json:"backends"`
}

// KPIs counts tables, attributes, associations and records per backend.
// A backend or table that fails to answer is reported in place rather than failing the dashboard.
func (s *Service) KPIs(ctx context.Context, token string) (Dashboard, error) {
	dashboard := Dashboard{GeneratedAt: s.clock().UTC()}
	for _, backend := range s.names {
		kpi := BackendKPI{Backend: backend, TableCounts: []TableKPI{}}
		listing, err := s.ListTables(ctx, token, backend)
		if err != nil {
			kpi.Error = err.Error()
			kpi.ErrorType = string(upstream.ErrorTypeUnknown)
			if upstreamErr, ok := upstream.AsError(err); ok {
				kpi.Error = upstreamErr.Message
				kpi.ErrorType = string(upstreamErr.Type)
			}
			dashboard.Backends = append(dashboard.Backends, kpi)
			continue
		}

		kpi.Fallback = listing.Fallback
		kpi.Tables = len(listing.Tables)
		for _, table := range listing.Tables {
			kpi.Attributes += len(table.Attributes)
			kpi.Associations += len(table.Associations)
		}
		if !listing.Fallback {
			kpi.TableCounts = s.countRecords(ctx, token, backend, listing.Tables)
			for _, count := range kpi.TableCounts {
				kpi.Records += count.Records
			}
		}
		dashboard.Backends = append(dashboard.Backends, kpi)
	}
	return dashboard, nil
}

func (s *Service) countRecords(ctx context.Context, token string, backend string, tables []Table) []TableKPI {
	counts := make([]TableKPI, len(tables))
	client := s.backends[backend]

	var group errgroup.Group
	group.SetLimit(recordCountConcurrency)
	for index, table := range tables {
		group.Go(func() error {
			counts[index].Name = table.Name
			page, err := client.GetRecords(ctx, token, table.Name, upstream.RecordQuery{Page: 1, Size: 1})
			if err != nil {
				counts[index].Error = err.Error()
				if upstreamErr, ok := upstream.AsError(err); ok {
					counts[index].Error = upstreamErr.Message
				}
				s.logger.Info("record count failed",
					zap.String("backend", backend),
					zap.String("table", table.Name),
					zap.Error(err),
				)
				return nil
			}
			counts[index].Records = page.Pagination.Total
			return nil
		})
	}
	_ = group.Wait()
	return counts
}
