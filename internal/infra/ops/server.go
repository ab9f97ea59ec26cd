// Package ops serves the operational HTTP endpoints: health, prometheus
// metrics and read-only circle snapshots.
package ops

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"savings_circle/internal/domain/community"
	"savings_circle/internal/domain/notification"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Snapshotter reads a community aggregate.
type Snapshotter interface {
	Snapshot(ctx context.Context, communityID int64) (*community.State, error)
}

// QueueStats reports the payout queue depth.
type QueueStats interface {
	Len() int
	InFlightCount() int
}

// DeliveryLister reads recorded notice deliveries.
type DeliveryLister interface {
	ListByCommunity(ctx context.Context, communityID int64, limit int) ([]*notification.Delivery, error)
}

type deliveryView struct {
	UserID    int64     `json:"user_id"`
	Kind      string    `json:"kind"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type circleView struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	ActiveMembers     int        `json:"active_members"`
	TotalContributed  string     `json:"total_contributed"`
	TotalDistributed  string     `json:"total_distributed"`
	BackupFundBalance string     `json:"backup_fund_balance"`
	CycleNumber       int        `json:"cycle_number,omitempty"`
	NextInLine        int64      `json:"next_in_line,omitempty"`
	PayoutDate        *time.Time `json:"payout_date,omitempty"`
	TurnReady         bool       `json:"turn_ready"`
}

func newCircleView(st *community.State) circleView {
	c := st.Community
	v := circleView{
		ID:                c.ID,
		Name:              c.Name,
		ActiveMembers:     len(st.ActiveMembers()),
		TotalContributed:  c.TotalContributed.StringFixed(2),
		TotalDistributed:  c.TotalDistributed.StringFixed(2),
		BackupFundBalance: c.BackupFundBalance.StringFixed(2),
	}
	if cycle := st.ActiveCycle(); cycle != nil {
		v.CycleNumber = cycle.CycleNumber
	}
	if mc := st.OpenMidCycle(); mc != nil {
		due := mc.PayoutDate
		v.NextInLine = mc.NextInLine
		v.PayoutDate = &due
		v.TurnReady = mc.IsReady
	}
	return v
}

// NewRouter builds the ops router. deliveries may be nil, in which case the
// notices endpoint is not mounted.
func NewRouter(circles Snapshotter, queue QueueStats, deliveries DeliveryLister, logger *logrus.Entry) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":          "ok",
			"queued_payouts":  queue.Len(),
			"running_payouts": queue.InFlightCount(),
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/circles/{communityID}", func(w http.ResponseWriter, r *http.Request) {
		id, ok := communityID(w, r)
		if !ok {
			return
		}
		st, err := circles.Snapshot(r.Context(), id)
		if err != nil {
			if errors.Is(err, community.ErrCommunityNotFound) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "community not found"})
				return
			}
			logger.WithField("community_id", id).WithError(err).Error("Snapshot failed")
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
			return
		}
		writeJSON(w, http.StatusOK, newCircleView(st))
	})

	if deliveries != nil {
		r.Get("/circles/{communityID}/notices", func(w http.ResponseWriter, r *http.Request) {
			id, ok := communityID(w, r)
			if !ok {
				return
			}
			limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
			if limit <= 0 || limit > 200 {
				limit = 50
			}
			rows, err := deliveries.ListByCommunity(r.Context(), id, limit)
			if err != nil {
				logger.WithField("community_id", id).WithError(err).Error("Listing notice deliveries failed")
				writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
				return
			}
			out := make([]deliveryView, 0, len(rows))
			for _, d := range rows {
				out = append(out, deliveryView{
					UserID:    d.UserID,
					Kind:      string(d.Kind),
					Status:    string(d.Status),
					Error:     d.Error,
					CreatedAt: d.CreatedAt,
				})
			}
			writeJSON(w, http.StatusOK, out)
		})
	}

	return r
}

func communityID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "communityID"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid community id"})
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// Serve runs the ops server until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *logrus.Entry) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.WithField("addr", addr).Info("Ops server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info("Ops server stopped")
		return nil
	}
}
