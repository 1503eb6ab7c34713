package main

import (
	"context"

	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/config"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/database"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/identity"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/logging"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/server"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/tasks"
	"github.com/MarcoPoloResearchLab/taskflow/backend/internal/users"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// application holds the services shared by the server and the admin commands.
type application struct {
	config        config.AppConfig
	logger        *zap.Logger
	db            *gorm.DB
	users         *users.Service
	tasks         *tasks.Service
	notifications *tasks.NotificationService
	realtime      *server.RealtimeDispatcher
}

func newApplication(_ context.Context) (*application, error) {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return nil, err
	}

	db, err := database.Open(database.Options{
		URL:           appConfig.StoreURL,
		LocalIdentity: !appConfig.UsesHostedIdentity(),
	}, logger)
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}

	app := &application{config: appConfig, logger: logger, db: db}
	if err := app.wire(); err != nil {
		app.Close()
		return nil, err
	}
	return app, nil
}

func (a *application) wire() error {
	idProvider := ids.NewUUIDProvider()

	var identities identity.Store
	if a.config.UsesHostedIdentity() {
		client, err := identity.NewAdminClient(identity.AdminClientConfig{
			BaseURL:    a.config.IdentityURL,
			ServiceKey: a.config.ServiceKey,
			Logger:     a.logger,
		})
		if err != nil {
			return err
		}
		identities = client
	} else {
		store, err := identity.NewLocalStore(identity.LocalStoreConfig{
			Database:   a.db,
			IDProvider: idProvider,
			Logger:     a.logger,
		})
		if err != nil {
			return err
		}
		identities = store
	}

	userService, err := users.NewService(users.ServiceConfig{
		Database:   a.db,
		Identities: identities,
		IDProvider: idProvider,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}

	realtime := server.NewRealtimeDispatcher()
	notificationService, err := tasks.NewNotificationService(tasks.NotificationServiceConfig{
		Database:   a.db,
		Publisher:  realtime,
		IDProvider: idProvider,
		Logger:     a.logger,
	})
	if err != nil {
		return err
	}
	taskService, err := tasks.NewService(tasks.ServiceConfig{
		Database:      a.db,
		Directory:     userService,
		Notifications: notificationService,
		IDProvider:    idProvider,
		Logger:        a.logger,
	})
	if err != nil {
		return err
	}

	a.users = userService
	a.tasks = taskService
	a.notifications = notificationService
	a.realtime = realtime
	return nil
}

func (a *application) Close() {
	if sqlDB, err := a.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	_ = a.logger.Sync()
}
