package pipeline

import (
	"github.com/brustt/logistics-sprawl/internal/cache"
	"github.com/brustt/logistics-sprawl/internal/layer"
	"github.com/brustt/logistics-sprawl/internal/model"
)

func (r *Runner) encodeZone(z *model.Zone) ([]byte, error) {
	return layer.Encode(layer.FromZone(string(cache.StageZone), r.cfg.CRS, z))
}

func decodeZone(data []byte) (*model.Zone, error) {
	l, err := layer.Decode(data)
	if err != nil {
		return nil, err
	}
	return layer.ToZone(l)
}

func (r *Runner) encodeGeo(recs []model.GeoRecord) ([]byte, error) {
	return layer.Encode(layer.FromGeoRecords(string(cache.StageGeoRegistry), r.cfg.CRS, recs))
}

func decodeGeo(data []byte) ([]model.GeoRecord, error) {
	l, err := layer.Decode(data)
	if err != nil {
		return nil, err
	}
	return layer.ToGeoRecords(l)
}

func (r *Runner) encodeCandidates(cands []model.Candidate) ([]byte, error) {
	return layer.Encode(layer.FromCandidates(string(cache.StageCandidates), r.cfg.CRS, cands))
}

func decodeCandidates(data []byte) ([]model.Candidate, error) {
	l, err := layer.Decode(data)
	if err != nil {
		return nil, err
	}
	return layer.ToCandidates(l)
}

func (r *Runner) encodeBuildings(bs []model.Building) ([]byte, error) {
	return layer.Encode(layer.FromBuildings(string(cache.StageMatched), r.cfg.CRS, bs))
}

func decodeBuildings(data []byte) ([]model.Building, error) {
	l, err := layer.Decode(data)
	if err != nil {
		return nil, err
	}
	return layer.ToBuildings(l)
}
