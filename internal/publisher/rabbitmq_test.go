package publisher

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"vc_metrics/internal/domain"
)

func TestBindingKeys(t *testing.T) {
	tests := []struct {
		name    string
		actions []domain.EventAction
		want    []string
	}{
		{"all actions", nil, []string{"articles.*"}},
		{"selected", []domain.EventAction{domain.ActionCreated, domain.ActionDeleted}, []string{"articles.created", "articles.deleted"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, bindingKeys("articles", tt.actions))
		})
	}
}

func TestRoutingKeyFor(t *testing.T) {
	assert.Equal(t, "articles.refreshed", routingKeyFor("articles", domain.ActionRefreshed))
}
