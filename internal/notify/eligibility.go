package notify

import (
	"context"
	"errors"
	"fmt"

	"github.com/kyokomi/emoji/v2"

	"github.com/sisalud/appointment-notifier/internal/appointment"
)

// ErrNotEligible marks an appointment whose classification has the requested
// notification kind disabled or unconfigured. Callers skip silently on it.
var ErrNotEligible = errors.New("notification kind not enabled for classification")

// ConfigSource looks up the per-classification notification configuration.
type ConfigSource interface {
	TemplateConfig(ctx context.Context, classificationID int64) (*appointment.TemplateConfig, error)
}

// Resolver decides whether a notification kind may be sent for a
// classification and resolves the template to use.
type Resolver struct {
	source ConfigSource
}

func NewResolver(source ConfigSource) *Resolver {
	return &Resolver{source: source}
}

// Resolve returns the template for the given classification and kind, with
// emoji shortcodes expanded. ErrNotEligible when the kind is switched off or
// has no template; a missing config row is also not eligible.
func (r *Resolver) Resolve(ctx context.Context, classificationID int64, kind appointment.NotificationKind) (*appointment.Template, error) {
	cfg, err := r.source.TemplateConfig(ctx, classificationID)
	if err != nil {
		if errors.Is(err, appointment.ErrTemplateConfigNotFound) {
			return nil, ErrNotEligible
		}
		return nil, fmt.Errorf("load template config classification=%d: %w", classificationID, err)
	}

	kc := cfg.Kind(kind)
	if !kc.Enabled || kc.Template == nil {
		return nil, ErrNotEligible
	}
	return &appointment.Template{
		ID:   kc.Template.ID,
		Body: emoji.Sprint(kc.Template.Body),
	}, nil
}
