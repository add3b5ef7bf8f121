package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"souschef"
	"souschef/assistant"
	"souschef/shopping"
	"souschef/storage"
	"souschef/store"
)

var errBadRequest = errors.New("bad request")

type chatRequest struct {
	Message string `json:"message" binding:"required"`
	// Channel defaults to api; the dashboard sends "web".
	Channel string `json:"channel"`
}

func (s *Server) Chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	ch := souschef.ChannelAPI
	if req.Channel != "" {
		parsed, err := souschef.ParseChannel(req.Channel)
		if err != nil {
			abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		ch = parsed
	}

	reply, err := s.deps.Assistant.Respond(c.Request.Context(), assistant.ChatRequest{
		UserID:  currentUser(c).ID,
		Channel: ch,
		Message: req.Message,
	})
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, reply)
}

type generateRequest struct {
	WeekStart string   `json:"week_start"`
	MealTypes []string `json:"meal_types"`
}

func (s *Server) GeneratePlan(c *gin.Context) {
	var req generateRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
	}
	week := s.deps.Now()
	if req.WeekStart != "" {
		d, err := time.Parse(time.DateOnly, req.WeekStart)
		if err != nil {
			abort(c, fmt.Errorf("%w: week_start must be YYYY-MM-DD", errBadRequest))
			return
		}
		week = d
	}

	res, err := s.deps.Planner.GenerateWeek(c.Request.Context(), currentUser(c), store.WeekStart(week), req.MealTypes)
	if err != nil {
		abort(c, err)
		return
	}
	status := http.StatusOK
	if res.Generated == 0 && len(res.Failures) > 0 {
		status = http.StatusUnprocessableEntity
	}
	c.JSON(status, res)
}

type replaceRequest struct {
	Date     string `json:"date" binding:"required"`
	MealType string `json:"meal_type" binding:"required"`
	Notes    string `json:"notes"`
}

func (s *Server) ReplaceMeal(c *gin.Context) {
	var req replaceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	day, err := time.Parse(time.DateOnly, req.Date)
	if err != nil {
		abort(c, fmt.Errorf("%w: date must be YYYY-MM-DD", errBadRequest))
		return
	}

	res, err := s.deps.Planner.ReplaceMeal(c.Request.Context(), currentUser(c), c.Param("id"), day, req.MealType, req.Notes)
	if err != nil {
		abort(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"meal": res.Meal, "slot": res.Slot, "attempts": res.Attempts})
}

func (s *Server) ShoppingList(c *gin.Context) {
	list, err := s.deps.Shopping.ForPlan(c.Request.Context(), currentUser(c).ID, c.Param("id"))
	if err != nil {
		abort(c, err)
		return
	}

	if c.Query("format") == "text" {
		c.String(http.StatusOK, shopping.Text(list))
		return
	}

	body := gin.H{
		"plan_id":      list.PlanID,
		"week_start":   list.WeekStart.Format(time.DateOnly),
		"generated_at": list.GeneratedAt,
		"categories":   list.ByCategory(),
		"conflicts":    list.Conflicts,
	}
	if export, _ := strconv.ParseBool(c.Query("export")); export && s.deps.Exports != nil {
		name, err := storage.ExportShoppingList(c.Request.Context(), s.deps.Exports, list)
		if err != nil {
			abort(c, err)
			return
		}
		body["export"] = name
	}
	c.JSON(http.StatusOK, body)
}
