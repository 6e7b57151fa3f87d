package server

import (
	"fmt"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
)

func parseIDParam(c *gin.Context, name string) (snowflake.ID, error) {
	raw := c.Param(name)
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRequest, name)
	}
	return id, nil
}

func parseIDQuery(c *gin.Context, name string) (snowflake.ID, error) {
	raw := c.Query(name)
	if raw == "" {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRequest, name)
	}
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRequest, name)
	}
	return id, nil
}

func parseID(raw, name string) (snowflake.ID, error) {
	id, err := snowflake.ParseString(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s", ErrInvalidRequest, name)
	}
	return id, nil
}

func parseLimitQuery(c *gin.Context) int {
	raw := c.Query("limit")
	if raw == "" {
		return 0
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		return 0
	}
	return limit
}
