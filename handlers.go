package main

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

var (
	appVersion string
)

func cdsServices(c echo.Context) error {
	// Build basic Hook response
	serviceResponse := ServiceResponse{
		Services: []Service{
			{
				Hook:        "patient-view",
				Title:       "Suggest Symptom Care Pathway",
				Description: "Matches the patient's recent symptoms to a condition and proposes its intervention protocol",
				Id:          "symptom-protocol",
				Prefetch:    map[string]string{},
			},
		},
	}

	// Return response
	return c.JSON(http.StatusOK, serviceResponse)
}

func heartbeat(c echo.Context) error {
	// Heartbeat function to assess service status. Immediately return 200
	return c.NoContent(http.StatusOK)
}
