package mysql

import "camwatch/pkg/store/mysql/model"

type (
	// Database models
	StreamAssignment = model.StreamAssignment
	ReconcileEvent   = model.ReconcileEvent
)

// allModels tables managed by Migrate
var allModels = []interface{}{
	&StreamAssignment{},
	&ReconcileEvent{},
}
