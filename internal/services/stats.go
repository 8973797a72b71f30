package services

import (
	"net/http"
	"sort"
	"strings"
	"time"

	"gonum.org/v1/gonum/stat"

	"trafficeye/internal/engine"
)

// TypeStats summarises one violation type
type TypeStats struct {
	Type           string  `json:"type"`
	Category       string  `json:"category"`
	Count          int     `json:"count"`
	MeanConfidence float64 `json:"mean_confidence"`
	StdConfidence  float64 `json:"std_confidence"`
}

// StatsResponse is the body of GET /api/stats
type StatsResponse struct {
	Total      int            `json:"total"`
	ByType     []TypeStats    `json:"by_type"`
	ByCategory map[string]int `json:"by_category"`
	ByVehicle  map[string]int `json:"by_vehicle"`
}

// splitComposite splits "red_light_violation (car)" into its base type and vehicle
func splitComposite(composite string) (string, string) {
	base, rest, ok := strings.Cut(composite, " (")
	if !ok {
		return composite, ""
	}
	return base, strings.TrimSuffix(rest, ")")
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var since *time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			s.fail(ctx, w, badRequest("invalid since: "+v))
			return
		}
		since = &t
	}

	confidences, err := s.db.ConfidencesByType(since)
	if err != nil {
		s.fail(ctx, w, err)
		return
	}

	byBase := make(map[string][]float64)
	resp := StatsResponse{
		ByType:     []TypeStats{},
		ByCategory: make(map[string]int),
		ByVehicle:  make(map[string]int),
	}
	for composite, cs := range confidences {
		base, vehicle := splitComposite(composite)
		byBase[base] = append(byBase[base], cs...)
		if vehicle != "" {
			resp.ByVehicle[vehicle] += len(cs)
		}
		resp.Total += len(cs)
	}

	for base, cs := range byBase {
		cat := engine.CategoryOf(base)
		mean, std := stat.MeanStdDev(cs, nil)
		if len(cs) < 2 {
			std = 0
		}
		resp.ByType = append(resp.ByType, TypeStats{
			Type:           base,
			Category:       string(cat),
			Count:          len(cs),
			MeanConfidence: mean,
			StdConfidence:  std,
		})
		resp.ByCategory[string(cat)] += len(cs)
	}
	sort.Slice(resp.ByType, func(i, j int) bool {
		a, b := resp.ByType[i], resp.ByType[j]
		if pa, pb := engine.Category(a.Category).Priority(), engine.Category(b.Category).Priority(); pa != pb {
			return pa < pb
		}
		return a.Type < b.Type
	})

	encode(ctx, w, http.StatusOK, resp)
}
