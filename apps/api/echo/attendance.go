package echoapi

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/rollcall/core/attendance"
)

type attendanceApi struct {
	svc *attendance.Service
}

func registerAttendanceAPI(g *echo.Group, svc *attendance.Service) {
	api := attendanceApi{svc: svc}

	g.POST("/scans", api.importScans)

	mg := g.Group("/modules")
	mg.GET("", api.queryModules)
	mg.POST("", api.saveModule)

	// detail endpoints
	dg := mg.Group("/:module")
	dg.GET("", api.retrieveModule)
	dg.POST("/roster", api.importRoster)
	dg.POST("/schedule", api.importSchedule)
	dg.POST("/reconcile", api.reconcile)
	dg.GET("/cycle", api.lastCycle)
	dg.GET("/statuses", api.statuses)
	dg.GET("/transfers", api.transfers)
	dg.GET("/records", api.records)
}

type (
	RosterImportRequest struct {
		Rows []attendance.RosterRow `json:"rows"`
	}

	ScheduleImportRequest struct {
		Rows []attendance.ScheduleRow `json:"rows"`
	}

	ScanImportRequest struct {
		Rows []attendance.ScanRow `json:"rows"`
	}

	ImportResponse struct {
		Imported    int                     `json:"imported"`
		Diagnostics []attendance.Diagnostic `json:"diagnostics"`
	}

	ReconcileResponse struct {
		Cycle       attendance.Cycle               `json:"cycle"`
		Statuses    []attendance.EntitlementStatus `json:"statuses"`
		Transfers   []attendance.TransferInference `json:"transfers"`
		Diagnostics []attendance.Diagnostic        `json:"diagnostics"`
	}
)

func newImportResponse(imported int, diag attendance.Diagnostics) ImportResponse {
	items := diag.Items
	if items == nil {
		items = []attendance.Diagnostic{}
	}
	return ImportResponse{Imported: imported, Diagnostics: items}
}

// Handlers

func (api *attendanceApi) queryModules(ctx echo.Context) error {
	modules, err := api.svc.ListModules(ctx.Request().Context())
	if err != nil {
		return errors.Wrap(err, "listing modules")
	}
	if modules == nil {
		modules = []attendance.Module{}
	}
	return ctx.JSON(http.StatusOK, modules)
}

func (api *attendanceApi) saveModule(ctx echo.Context) error {
	var data attendance.NewModule
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to NewModule")
	}
	m, err := api.svc.CreateModule(ctx.Request().Context(), data)
	if err != nil {
		return errors.Wrap(err, "saving module")
	}
	return ctx.JSON(http.StatusCreated, m)
}

func (api *attendanceApi) retrieveModule(ctx echo.Context) error {
	m, err := api.svc.GetModule(ctx.Request().Context(), ctx.Param("module"))
	if err != nil {
		return errors.Wrap(err, "getting module")
	}
	return ctx.JSON(http.StatusOK, m)
}

func (api *attendanceApi) importRoster(ctx echo.Context) error {
	var data RosterImportRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to RosterImportRequest")
	}
	n, diag, err := api.svc.ImportRoster(ctx.Request().Context(), ctx.Param("module"), data.Rows)
	if err != nil {
		return errors.Wrap(err, "importing roster")
	}
	return ctx.JSON(http.StatusCreated, newImportResponse(n, diag))
}

func (api *attendanceApi) importSchedule(ctx echo.Context) error {
	var data ScheduleImportRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ScheduleImportRequest")
	}
	n, diag, err := api.svc.ImportSchedule(ctx.Request().Context(), ctx.Param("module"), data.Rows)
	if err != nil {
		return errors.Wrap(err, "importing schedule")
	}
	return ctx.JSON(http.StatusCreated, newImportResponse(n, diag))
}

func (api *attendanceApi) importScans(ctx echo.Context) error {
	var data ScanImportRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ScanImportRequest")
	}
	n, diag, err := api.svc.ImportScans(ctx.Request().Context(), data.Rows)
	if err != nil {
		return errors.Wrap(err, "importing scans")
	}
	return ctx.JSON(http.StatusCreated, newImportResponse(n, diag))
}

func (api *attendanceApi) reconcile(ctx echo.Context) error {
	res, cycle, err := api.svc.Reconcile(ctx.Request().Context(), ctx.Param("module"))
	if err != nil {
		return errors.Wrap(err, "reconciling")
	}
	return ctx.JSON(http.StatusOK, ReconcileResponse{
		Cycle:       cycle,
		Statuses:    res.Statuses,
		Transfers:   res.Transfers,
		Diagnostics: newImportResponse(0, res.Diagnostics).Diagnostics,
	})
}

func (api *attendanceApi) lastCycle(ctx echo.Context) error {
	cycle, err := api.svc.LastCycle(ctx.Request().Context(), ctx.Param("module"))
	if err != nil {
		return errors.Wrap(err, "getting last cycle")
	}
	return ctx.JSON(http.StatusOK, cycle)
}

func (api *attendanceApi) statuses(ctx echo.Context) error {
	statuses, err := api.svc.Statuses(ctx.Request().Context(), ctx.Param("module"))
	if err != nil {
		return errors.Wrap(err, "computing statuses")
	}
	if statuses == nil {
		statuses = []attendance.EntitlementStatus{}
	}
	return ctx.JSON(http.StatusOK, statuses)
}

func (api *attendanceApi) transfers(ctx echo.Context) error {
	transfers, err := api.svc.Transfers(ctx.Request().Context(), ctx.Param("module"))
	if err != nil {
		return errors.Wrap(err, "listing transfers")
	}
	if transfers == nil {
		transfers = []attendance.TransferInference{}
	}
	return ctx.JSON(http.StatusOK, transfers)
}

func (api *attendanceApi) records(ctx echo.Context) error {
	ordering := new(Ordering)
	ordering.Bind(ctx)

	records, err := api.svc.Records(ctx.Request().Context(), ctx.Param("module"))
	if err != nil {
		return errors.Wrap(err, "listing records")
	}
	if err = attendance.SortRecords(records, ordering.Orderings); err != nil {
		return err
	}
	if records == nil {
		records = []attendance.ValidatedRecord{}
	}
	return ctx.JSON(http.StatusOK, records)
}
