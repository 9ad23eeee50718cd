// Package join pairs the filtered registry with the geocoded establishments
// inside the study zone.
package join

import (
	"go.uber.org/zap"

	"github.com/brustt/logistics-sprawl/internal/model"
)

// Candidates inner-joins recs and geo on the integer value of SIRET. Output
// follows registry order; an identifier present several times on the right
// yields one candidate per pair, in right order. Rows whose SIRET is not an
// integer are dropped.
func Candidates(recs []model.RegistryRecord, geo []model.GeoRecord) []model.Candidate {
	log := zap.L().With(zap.String("component", "join"))

	right := make(map[int64][]int, len(geo))
	for i, g := range geo {
		id, err := model.ParseSIRET(g.SIRET)
		if err != nil {
			log.Debug("dropping geo record with invalid siret", zap.String("siret", g.SIRET))
			continue
		}
		right[id] = append(right[id], i)
	}

	out := make([]model.Candidate, 0, min(len(recs), len(geo)))
	for _, r := range recs {
		id, err := model.ParseSIRET(r.SIRET)
		if err != nil {
			log.Debug("dropping registry record with invalid siret", zap.String("siret", r.SIRET))
			continue
		}
		for _, i := range right[id] {
			g := geo[i]
			out = append(out, model.Candidate{RegistryRecord: r, X: g.X, Y: g.Y, EPSG: g.EPSG})
		}
	}
	log.Info("join: candidates",
		zap.Int("registry", len(recs)),
		zap.Int("geo", len(geo)),
		zap.Int("candidates", len(out)),
	)
	return out
}
