package covariance

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// Operation names used for cache keys and metrics.
const (
	OperationRMT    = "rmt"
	OperationSpiked = "spiked"
)

// DefaultCacheTTL applies when NewService is given a non-positive ttl.
const DefaultCacheTTL = 24 * time.Hour

// ResultCache is the subset of calculations.Cache the service needs.
type ResultCache interface {
	Get(key string, dest interface{}) (bool, error)
	Set(key string, value interface{}, ttl time.Duration) error
}

// Recorder receives run and cache observations.
type Recorder interface {
	ObserveRun(operation, outcome string, elapsed time.Duration, signal int)
	ObserveCache(operation string, hit bool)
}

// RMTReport is the serialisable form of an RMTResult.
type RMTReport struct {
	RunID       string      `json:"run_id" msgpack:"run_id"`
	Labels      []string    `json:"labels" msgpack:"labels"`
	Covariance  [][]float64 `json:"covariance" msgpack:"covariance"`
	Correlation [][]float64 `json:"correlation" msgpack:"correlation"`
	Eigenvalues []float64   `json:"eigenvalues" msgpack:"eigenvalues"`
	Denoised    []float64   `json:"denoised" msgpack:"denoised"`
	MP          MPFit       `json:"mp" msgpack:"mp"`
	Signal      []int       `json:"signal" msgpack:"signal"`
	EigenTreat  string      `json:"eigen_treat" msgpack:"eigen_treat"`
	TraceBefore float64     `json:"trace_before" msgpack:"trace_before"`
	TraceAfter  float64     `json:"trace_after" msgpack:"trace_after"`
	Cached      bool        `json:"cached" msgpack:"-"`
}

// SpikedReport is the serialisable form of a ShrinkageResult.
type SpikedReport struct {
	RunID       string      `json:"run_id" msgpack:"run_id"`
	Labels      []string    `json:"labels" msgpack:"labels"`
	Covariance  [][]float64 `json:"covariance" msgpack:"covariance"`
	Eigenvalues []float64   `json:"eigenvalues" msgpack:"eigenvalues"`
	Shrunk      []float64   `json:"shrunk" msgpack:"shrunk"`
	Shrinkage   []float64   `json:"shrinkage" msgpack:"shrinkage"`
	Norm        string      `json:"norm" msgpack:"norm"`
	Pivot       int         `json:"pivot" msgpack:"pivot"`
	SpikeCount  int         `json:"spike_count" msgpack:"spike_count"`
	Sigma2      float64     `json:"sigma2" msgpack:"sigma2"`
	Gamma       float64     `json:"gamma" msgpack:"gamma"`
	Method      string      `json:"method" msgpack:"method"`
	Cached      bool        `json:"cached" msgpack:"-"`
}

// Service runs the estimators on behalf of the HTTP layer, memoising results
// when a cache is configured.
type Service struct {
	cache   ResultCache
	metrics Recorder
	ttl     time.Duration
	log     zerolog.Logger
}

// NewService creates a service without cache or metrics.
func NewService(ttl time.Duration, log zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Service{
		ttl: ttl,
		log: log.With().Str("component", "covariance_service").Logger(),
	}
}

// SetCache sets the result cache. This is optional.
func (s *Service) SetCache(cache ResultCache) {
	s.cache = cache
}

// SetMetrics sets the metrics recorder. This is optional.
func (s *Service) SetMetrics(metrics Recorder) {
	s.metrics = metrics
}

// RMT denoises the covariance of r.
func (s *Service) RMT(ctx context.Context, r ReturnMatrix, opts RMTOptions) (RMTReport, error) {
	if err := opts.Validate(); err != nil {
		return RMTReport{}, err
	}
	key, err := cacheKey(OperationRMT, r, rmtKeyOptions(opts))
	if err != nil {
		return RMTReport{}, err
	}

	var report RMTReport
	if s.lookup(OperationRMT, key, &report) {
		report.Cached = true
		return report, nil
	}
	if err := ctx.Err(); err != nil {
		return RMTReport{}, err
	}

	start := time.Now()
	res, err := EstimateRMT(r, opts)
	s.observe(OperationRMT, err, time.Since(start), len(res.Signal))
	if err != nil {
		s.log.Warn().Err(err).Str("outcome", Outcome(err)).Msg("RMT estimation failed")
		return RMTReport{}, err
	}

	report = RMTReport{
		RunID:       uuid.New().String(),
		Labels:      r.Labels,
		Covariance:  symToRows(res.Covariance),
		Correlation: symToRows(res.Correlation),
		Eigenvalues: res.Spectrum.Values,
		Denoised:    res.Denoised,
		MP:          res.MP,
		Signal:      res.Signal,
		EigenTreat:  res.EigenTreat,
		TraceBefore: res.TraceBefore,
		TraceAfter:  res.TraceAfter,
	}

	s.log.Info().
		Str("run_id", report.RunID).
		Int("num_assets", len(r.Labels)).
		Int("signal", len(res.Signal)).
		Float64("sigma2", res.MP.Sigma2).
		Dur("elapsed", time.Since(start)).
		Msg("RMT covariance estimated")

	s.store(key, report)
	return report, nil
}

// Spiked shrinks the spiked eigenvalues of the covariance of r.
func (s *Service) Spiked(ctx context.Context, r ReturnMatrix, opts SpikedOptions) (SpikedReport, error) {
	if err := opts.Validate(); err != nil {
		return SpikedReport{}, err
	}
	key, err := cacheKey(OperationSpiked, r, opts.withDefaults())
	if err != nil {
		return SpikedReport{}, err
	}

	var report SpikedReport
	if s.lookup(OperationSpiked, key, &report) {
		report.Cached = true
		return report, nil
	}
	if err := ctx.Err(); err != nil {
		return SpikedReport{}, err
	}

	start := time.Now()
	res, err := EstimateSpikedCovariance(r, opts)
	s.observe(OperationSpiked, err, time.Since(start), res.SpikeCount)
	if err != nil {
		s.log.Warn().Err(err).Str("outcome", Outcome(err)).Msg("Spiked estimation failed")
		return SpikedReport{}, err
	}

	report = SpikedReport{
		RunID:       uuid.New().String(),
		Labels:      r.Labels,
		Covariance:  symToRows(res.Covariance),
		Eigenvalues: res.Spectrum.Values,
		Shrunk:      res.Shrunk,
		Shrinkage:   res.Shrinkage,
		Norm:        string(res.Norm),
		Pivot:       res.Pivot,
		SpikeCount:  res.SpikeCount,
		Sigma2:      res.Sigma2,
		Gamma:       res.Gamma,
		Method:      res.Method,
	}

	s.log.Info().
		Str("run_id", report.RunID).
		Int("num_assets", len(r.Labels)).
		Int("spikes", res.SpikeCount).
		Str("norm", report.Norm).
		Int("pivot", res.Pivot).
		Str("method", res.Method).
		Dur("elapsed", time.Since(start)).
		Msg("Spiked covariance estimated")

	s.store(key, report)
	return report, nil
}

// lookup reports a cache hit. Cache failures are logged and treated as misses.
func (s *Service) lookup(operation, key string, dest interface{}) bool {
	if s.cache == nil {
		return false
	}
	hit, err := s.cache.Get(key, dest)
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to read cached result, recalculating")
		hit = false
	}
	if s.metrics != nil {
		s.metrics.ObserveCache(operation, hit)
	}
	if hit {
		s.log.Debug().Str("key", key).Msg("Using cached result")
	}
	return hit
}

func (s *Service) store(key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(key, value, s.ttl); err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Failed to cache result")
	}
}

func (s *Service) observe(operation string, err error, elapsed time.Duration, signal int) {
	if s.metrics != nil {
		s.metrics.ObserveRun(operation, Outcome(err), elapsed, signal)
	}
}

// rmtKeyOptions drops the fields that do not change the result.
func rmtKeyOptions(opts RMTOptions) RMTOptions {
	opts = opts.withDefaults()
	opts.MP.Parallel = false
	opts.MP.Workers = 0
	return opts
}

// cacheKey hashes labels, data and options into "<operation>:<hex>".
// Column order is significant, so labels are not sorted.
func cacheKey(operation string, r ReturnMatrix, opts interface{}) (string, error) {
	encoded, err := msgpack.Marshal(opts)
	if err != nil {
		return "", fmt.Errorf("failed to encode options: %w", err)
	}

	h := sha256.New()
	for _, label := range r.Labels {
		h.Write([]byte(label))
		h.Write([]byte{0})
	}
	if r.Data != nil {
		t, n := r.Data.Dims()
		var buf [8]byte
		binary.LittleEndian.PutUint64(buf[:], uint64(t))
		h.Write(buf[:])
		binary.LittleEndian.PutUint64(buf[:], uint64(n))
		h.Write(buf[:])
		for i := 0; i < t; i++ {
			for j := 0; j < n; j++ {
				binary.LittleEndian.PutUint64(buf[:], math.Float64bits(r.Data.At(i, j)))
				h.Write(buf[:])
			}
		}
	}
	h.Write(encoded)

	sum := h.Sum(nil)
	return operation + ":" + hex.EncodeToString(sum[:16]), nil
}

func symToRows(m *mat.SymDense) [][]float64 {
	if m == nil {
		return nil
	}
	n := m.SymmetricDim()
	rows := make([][]float64, n)
	for i := range rows {
		rows[i] = make([]float64, n)
		for j := range rows[i] {
			rows[i][j] = m.At(i, j)
		}
	}
	return rows
}
