package handler

import (
	"relaychat/internal/app/chat"
	"relaychat/internal/app/db"
	"relaychat/internal/configs"
)

// AppDeps bundles what the HTTP handlers need.
type AppDeps struct {
	Hub    *chat.Hub
	Config *configs.AppConfig
	Store  db.Store
}
