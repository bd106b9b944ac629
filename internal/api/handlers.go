package api

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v3"

	"github.com/steveyegge/rdscout/internal/discovery"
	"github.com/steveyegge/rdscout/internal/types"
)

const maxRunsLimit = 200

// discoverResponse is the JSON form of a discovery result
type discoverResponse struct {
	Run        *types.DiscoveryRun      `json:"run"`
	High       []types.ProjectCandidate `json:"high"`
	Medium     []types.ProjectCandidate `json:"medium"`
	Low        []types.ProjectCandidate `json:"low"`
	Unassigned []string                 `json:"unassigned"`
}

func newDiscoverResponse(r *discovery.Result) discoverResponse {
	return discoverResponse{
		Run:        r.Run,
		High:       nonNil(r.High),
		Medium:     nonNil(r.Medium),
		Low:        nonNil(r.Low),
		Unassigned: nonNil(r.Unassigned),
	}
}

// changesRequest names either an upload batch or an explicit document list
type changesRequest struct {
	BatchID   string           `json:"batch_id"`
	Documents []types.Document `json:"documents"`
}

func (s *Server) health(c fiber.Ctx) error {
	if s.deps.Health != nil {
		if err := s.deps.Health.Ping(c.Context()); err != nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(fiber.Map{"status": "healthy"})
}

// discover runs full discovery synchronously and returns the tiered result
func (s *Server) discover(c fiber.Ctx) error {
	scope := strings.TrimSpace(c.Params("scope"))
	result, err := s.deps.Discoverer.Discover(c.Context(), scope)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(newDiscoverResponse(result))
}

// analyzeChanges compares new documents against the scope's persisted projects
func (s *Server) analyzeChanges(c fiber.Ctx) error {
	if s.deps.Changes == nil {
		return c.Status(fiber.StatusNotImplemented).JSON(fiber.Map{"error": "change detection is not configured"})
	}
	scope := strings.TrimSpace(c.Params("scope"))

	var req changesRequest
	if err := c.Bind().JSON(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid request body"})
	}
	req.BatchID = strings.TrimSpace(req.BatchID)
	if (req.BatchID == "") == (len(req.Documents) == 0) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "exactly one of batch_id or documents is required"})
	}

	existing, err := s.deps.Projects.ExistingProjects(c.Context(), scope)
	if err != nil {
		return s.errorResponse(c, types.NewError(types.KindUpstream, "load existing projects", err))
	}

	var result *types.ChangeAnalysisResult
	if req.BatchID != "" {
		result, err = s.deps.Changes.AnalyzeBatch(c.Context(), scope, req.BatchID, existing)
	} else {
		result, err = s.deps.Changes.Analyze(c.Context(), scope, req.Documents, existing)
	}
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(result)
}

func (s *Server) listRuns(c fiber.Ctx) error {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	runs, err := s.deps.Runs.ListRuns(c.Context(), c.Params("scope"), limit)
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"runs": nonNil(runs), "count": len(runs)})
}

func (s *Server) getRun(c fiber.Ctx) error {
	run, err := s.deps.Runs.GetRun(c.Context(), c.Params("id"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(run)
}

func (s *Server) listProjects(c fiber.Ctx) error {
	projects, err := s.deps.Projects.ListProjects(c.Context(), c.Params("scope"))
	if err != nil {
		return s.errorResponse(c, err)
	}
	return c.JSON(fiber.Map{"projects": nonNil(projects), "count": len(projects)})
}

// parseLimit parses the optional limit query parameter (default 20)
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 20, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxRunsLimit {
		return 0, fmt.Errorf("limit must be between 1 and %d (got %q)", maxRunsLimit, raw)
	}
	return n, nil
}

// nonNil keeps empty lists as [] rather than null in responses
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
