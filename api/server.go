package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/gregtusar/greeks-sentiment/pkg/ledger"
	"github.com/gregtusar/greeks-sentiment/pkg/market"
	"github.com/gregtusar/greeks-sentiment/pkg/models"
	"github.com/gregtusar/greeks-sentiment/pkg/sentiment"
	"github.com/sirupsen/logrus"
)

var errNoData = errors.New("greeks log is empty")

const writeWait = 10 * time.Second

type Options struct {
	Port            string
	JWTSecret       string
	RefreshInterval time.Duration
}

type Server struct {
	log      ledger.Log
	openLog  ledger.Log
	calendar *market.Calendar
	logger   *logrus.Logger
	port     string
	secret   []byte
	refresh  time.Duration
	upgrader websocket.Upgrader
}

// LatestResponse is the payload behind the dashboard headline numbers.
type LatestResponse struct {
	Latest models.Aggregate `json:"latest"`
	Open   models.Aggregate `json:"open"`
	Change models.Change    `json:"change"`
}

// NewServer serves log rows read from log. openLog may be nil, in which case the
// session open is taken from log itself.
func NewServer(log, openLog ledger.Log, calendar *market.Calendar, logger *logrus.Logger, opts Options) *Server {
	refresh := opts.RefreshInterval
	if refresh <= 0 {
		refresh = time.Minute
	}

	return &Server{
		log:      log,
		openLog:  openLog,
		calendar: calendar,
		logger:   logger,
		port:     opts.Port,
		secret:   []byte(opts.JWTSecret),
		refresh:  refresh,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)

	greeks := router.PathPrefix("/api/greeks").Subrouter()
	if len(s.secret) > 0 {
		greeks.Use(s.authMiddleware)
	}
	greeks.HandleFunc("/log", s.handleLog).Methods(http.MethodGet)
	greeks.HandleFunc("/latest", s.handleLatest).Methods(http.MethodGet)
	greeks.HandleFunc("/stream", s.handleStream).Methods(http.MethodGet)

	// Enable CORS for the chart front-end
	return corsMiddleware(router)
}

// Start blocks until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Infof("Starting API server on port %s", s.port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.logger.Info("Shutting down API server")
		return srv.Shutdown(shutdownCtx)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			http.Error(w, "limit must be a non-negative integer", http.StatusBadRequest)
			return
		}
		limit = n
	}

	rows, err := s.log.Rows(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("Failed to read greeks log")
		http.Error(w, "failed to read greeks log", http.StatusInternalServerError)
		return
	}

	if limit > 0 && len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	s.writeJSON(w, http.StatusOK, rows)
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	latest, err := s.latest(r.Context())
	if errors.Is(err, errNoData) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		s.logger.WithError(err).Error("Failed to build latest payload")
		http.Error(w, "failed to read greeks log", http.StatusInternalServerError)
		return
	}

	s.writeJSON(w, http.StatusOK, latest)
}

func (s *Server) latest(ctx context.Context) (*LatestResponse, error) {
	rows, err := s.log.Rows(ctx)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errNoData
	}

	latest := rows[len(rows)-1]
	day := s.calendar.Day(latest.Timestamp)

	open, ok, err := s.sessionOpen(ctx, day)
	if err != nil {
		return nil, err
	}
	if !ok {
		open = firstOfDay(rows, day, s.calendar)
	}

	return &LatestResponse{
		Latest: latest,
		Open:   open,
		Change: sentiment.ChangeSince(open, latest),
	}, nil
}

func (s *Server) sessionOpen(ctx context.Context, day time.Time) (models.Aggregate, bool, error) {
	if s.openLog == nil {
		return models.Aggregate{}, false, nil
	}

	rows, err := s.openLog.Rows(ctx)
	if err != nil {
		return models.Aggregate{}, false, err
	}
	for _, row := range rows {
		if s.calendar.Day(row.Timestamp).Equal(day) {
			return row, true, nil
		}
	}
	return models.Aggregate{}, false, nil
}

// firstOfDay assumes rows holds at least one row on day.
func firstOfDay(rows []models.Aggregate, day time.Time, cal *market.Calendar) models.Aggregate {
	for _, row := range rows {
		if cal.Day(row.Timestamp).Equal(day) {
			return row
		}
	}
	return rows[len(rows)-1]
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.WithError(err).Error("Failed to encode JSON response")
	}
}
