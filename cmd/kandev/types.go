package main

import (
	settingsstore "github.com/tmuxagentd/tmuxagentd/internal/agent/settings/store"
	analyticsrepository "github.com/tmuxagentd/tmuxagentd/internal/analytics/repository"
	editorservice "github.com/tmuxagentd/tmuxagentd/internal/editors/service"
	editorstore "github.com/tmuxagentd/tmuxagentd/internal/editors/store"
	notificationservice "github.com/tmuxagentd/tmuxagentd/internal/notifications/service"
	notificationstore "github.com/tmuxagentd/tmuxagentd/internal/notifications/store"
	promptservice "github.com/tmuxagentd/tmuxagentd/internal/prompts/service"
	promptstore "github.com/tmuxagentd/tmuxagentd/internal/prompts/store"
	"github.com/tmuxagentd/tmuxagentd/internal/task/repository"
	taskservice "github.com/tmuxagentd/tmuxagentd/internal/task/service"
	userservice "github.com/tmuxagentd/tmuxagentd/internal/user/service"
	userstore "github.com/tmuxagentd/tmuxagentd/internal/user/store"
	workflowrepository "github.com/tmuxagentd/tmuxagentd/internal/workflow/repository"
	workflowservice "github.com/tmuxagentd/tmuxagentd/internal/workflow/service"
)

type Repositories struct {
	Task          repository.Repository
	Analytics     analyticsrepository.Repository
	AgentSettings settingsstore.Repository
	User          userstore.Repository
	Notification  notificationstore.Repository
	Editor        editorstore.Repository
	Prompts       promptstore.Repository
	Workflow      *workflowrepository.Repository
}

type Services struct {
	Task         *taskservice.Service
	User         *userservice.Service
	Editor       *editorservice.Service
	Notification *notificationservice.Service
	Prompts      *promptservice.Service
	Workflow     *workflowservice.Service
}
