package store

import (
	"github.com/rs/zerolog/log"

	"chainflow/internal/domain"
)

// endpointDefaults lists notification endpoints whose calls need a parameter
// set even when the task was stored without one.
var endpointDefaults = map[string]func() domain.Params{
	"/log/send-email": func() domain.Params {
		return domain.Params{
			"content": nil,
			"mode":    "simple",
			"subject": "Bilibili history daily report - {current_time}",
		}
	},
}

// applyEndpointDefaults runs after input validation on every create and update
// path: params for a known notification endpoint are filled in when empty.
func applyEndpointDefaults(taskID, endpoint string, params domain.Params) domain.Params {
	defaults, ok := endpointDefaults[endpoint]
	if !ok || len(params) > 0 {
		return params
	}
	log.Info().Str("task_id", taskID).Str("endpoint", endpoint).Msg("injected default params")
	return defaults()
}

// updatedParams resolves the params column for an update. It reports false
// when the column stays as it is.
func updatedParams(taskID string, cur domain.Task, endpoint *string, params *domain.Params) (domain.Params, bool) {
	ep := cur.Endpoint
	if endpoint != nil {
		ep = *endpoint
	}
	switch {
	case params != nil:
		return applyEndpointDefaults(taskID, ep, *params), true
	case endpoint != nil && len(cur.Params) == 0:
		if _, ok := endpointDefaults[ep]; ok {
			return applyEndpointDefaults(taskID, ep, nil), true
		}
	}
	return nil, false
}
