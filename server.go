package main

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func newServer(app *App) *echo.Echo {
	// Create new Echo object
	e := echo.New()
	e.HideBanner = true
	e.Validator = &requestValidator{validator: validator.New()}

	// Add basic middleware to log all requests
	e.Use(middleware.Logger())

	// Configure elastic apm logging
	initAPM(e)

	// Sets CORS headers to allow all origins, but restrict HTTP method type
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost},
	}))

	// Middleware to provide more control over response status for APM transactions
	// This must go after the Elastic APM middleware
	e.Use(filterError)

	// Adds a heartbeat handler
	e.GET("/heartbeat", heartbeat)

	api := e.Group("/api")
	api.POST("/search", app.searchSymptoms)
	api.POST("/match", app.matchCondition)
	api.GET("/conditions", app.listConditions)
	api.GET("/conditions/:key", app.getCondition)

	// Patient records are only protected when there is an auth service to ask
	var patientAuth []echo.MiddlewareFunc
	if app.config.AuthHost != "" {
		patientAuth = append(patientAuth, openId)
	}

	// The workflow needs somewhere to keep assessments between steps
	if app.workflow != nil {
		api.POST("/preview", app.previewMatch, patientAuth...)
		api.GET("/assessments", app.listAssessments, patientAuth...)
		api.POST("/assessments", app.reportIssue, patientAuth...)
		api.GET("/assessments/:id", app.getAssessment, patientAuth...)
		api.GET("/assessments/:id/symptoms", app.suggestSymptoms, patientAuth...)
		api.POST("/assessments/:id/symptoms", app.selectSymptoms, patientAuth...)
	}

	if app.tracker != nil {
		api.POST("/conditions", app.recordCondition, patientAuth...)
		api.GET("/patients/:id/conditions", app.listPatientConditions, patientAuth...)
	}

	// Creats API group to simplify middleware declaration
	cdsGroup := e.Group("/cds-services")

	// Add a GET handler for presenting the CDS Hooks services available
	cdsGroup.GET("", cdsServices)

	// Add a POST handler for CDS Hooks service
	cdsGroup.POST("/symptom-protocol", app.symptomProtocol, openId)

	if app.config.MCPHTTPEnabled {
		e.Any("/mcp", echo.WrapHandler(mcpHTTPHandler(app.mcp)))
	}

	return e
}
