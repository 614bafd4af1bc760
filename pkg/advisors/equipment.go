package advisors

import (
	"context"
	"fmt"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/freightops-pro/fopsbackend-sub000/pkg/workflow"
)

// EquipmentConfig tunes the inspector. Zero values take the defaults.
type EquipmentConfig struct {
	// MinHealthScore is the lowest passing health score (default 60).
	MinHealthScore float64 `json:"min_health_score" yaml:"min_health_score" validate:"min=0,max=100"`

	// InspectionMaxAge is how old the last inspection may be before it
	// costs points (default 90 days).
	InspectionMaxAge time.Duration `json:"inspection_max_age" yaml:"inspection_max_age" validate:"min=0"`

	// HighMileage is the odometer reading above which equipment loses
	// points (default 500,000).
	HighMileage float64 `json:"high_mileage" yaml:"high_mileage" validate:"min=0"`
}

// Score penalties.
const (
	penaltyHighMileage     = 20
	penaltyStaleInspection = 25
	penaltyNoInspection    = 15
	penaltyPerDefect       = 10
)

// EquipmentInspector implements workflow.EquipmentValidator.
//
// Candidate attributes read: equipment_type, equipment_types, mileage,
// last_inspection_at (RFC 3339), open_defects. Target attributes read:
// equipment_type.
type EquipmentInspector struct {
	cfg EquipmentConfig
	now func() time.Time
}

var _ workflow.EquipmentValidator = (*EquipmentInspector)(nil)

// NewEquipmentInspector creates an inspector.
func NewEquipmentInspector(cfg EquipmentConfig) *EquipmentInspector {
	if cfg.MinHealthScore == 0 {
		cfg.MinHealthScore = 60
	}
	if cfg.InspectionMaxAge == 0 {
		cfg.InspectionMaxAge = 90 * 24 * time.Hour
	}
	if cfg.HighMileage == 0 {
		cfg.HighMileage = 500000
	}
	return &EquipmentInspector{cfg: cfg, now: time.Now}
}

// CheckEquipment rejects when the equipment type does not match the load or
// the health score is below the minimum. The score is reported either way.
func (i *EquipmentInspector) CheckEquipment(ctx context.Context, req workflow.ValidationRequest) (workflow.Verdict, error) {
	if err := ctx.Err(); err != nil {
		return workflow.Verdict{}, err
	}

	cand := req.Candidate.Attributes
	score, notes := i.HealthScore(cand)

	if required := text(req.Target.Attributes, "equipment_type"); required != "" {
		offered := offeredTypes(cand)
		if !slices.Contains(offered, required) {
			have := "none"
			if len(offered) > 0 {
				have = strings.Join(offered, ", ")
			}
			return workflow.Verdict{
				Approved: false,
				Reason:   fmt.Sprintf("equipment type %s does not match required %s", have, required),
				Score:    &score,
			}, nil
		}
	}

	if score < i.cfg.MinHealthScore {
		return workflow.Verdict{
			Approved: false,
			Reason: fmt.Sprintf("health score %.0f below minimum %.0f (%s)",
				score, i.cfg.MinHealthScore, strings.Join(notes, ", ")),
			Score: &score,
		}, nil
	}

	reason := fmt.Sprintf("equipment ok, health score %.0f", score)
	if len(notes) > 0 {
		reason += " (" + strings.Join(notes, ", ") + ")"
	}
	return workflow.Verdict{Approved: true, Reason: reason, Score: &score}, nil
}

// HealthScore computes the 0-100 score and the findings that lowered it.
func (i *EquipmentInspector) HealthScore(attrs map[string]interface{}) (float64, []string) {
	score := 100.0
	var notes []string

	if miles, ok := number(attrs, "mileage"); ok && miles > i.cfg.HighMileage {
		score -= penaltyHighMileage
		notes = append(notes, fmt.Sprintf("mileage %.0f", miles))
	}

	if at, ok := timestamp(attrs, "last_inspection_at"); ok {
		if age := i.now().Sub(at); age > i.cfg.InspectionMaxAge {
			score -= penaltyStaleInspection
			notes = append(notes, fmt.Sprintf("inspection %d days old", int(age.Hours()/24)))
		}
	} else {
		score -= penaltyNoInspection
		notes = append(notes, "no inspection on file")
	}

	if defects, ok := number(attrs, "open_defects"); ok && defects > 0 {
		score -= penaltyPerDefect * defects
		notes = append(notes, fmt.Sprintf("%.0f open defects", defects))
	}

	return math.Max(0, math.Min(100, score)), notes
}

func offeredTypes(attrs map[string]interface{}) []string {
	types := stringList(attrs, "equipment_types")
	if t := text(attrs, "equipment_type"); t != "" && !slices.Contains(types, t) {
		types = append([]string{t}, types...)
	}
	return types
}
