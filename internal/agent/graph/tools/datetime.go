package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/components/tool/utils"
	"github.com/cloudwego/eino/schema"
)

const (
	ToolCompareDates      = "compare-dates-tool"
	ToolCompareThreeDates = "compare-three-dates-tool"
	ToolDatetime          = "datetime-tool"
	ToolWeekdayName       = "weekday-name-tool"
	ToolDayDifference     = "day-difference-tool"

	dateLayout = "2006-01-02"
)

// Clock resolves relative dates in the configured timezone.
type Clock struct {
	Location *time.Location
	Now      func() time.Time
}

func (c Clock) today() time.Time {
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	t := now().In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// parseDate accepts YYYY-MM-DD or one of now, today, yesterday, tomorrow.
func (c Clock) parseDate(s string) (time.Time, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "now", "today":
		return c.today(), nil
	case "yesterday":
		return c.today().AddDate(0, 0, -1), nil
	case "tomorrow":
		return c.today().AddDate(0, 0, 1), nil
	}
	loc := c.Location
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(s), loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q, please use format: YYYY-MM-DD", s)
	}
	return t, nil
}

type DateInput struct {
	Date string `json:"date"`
}

type CompareDatesInput struct {
	FirstDate  string `json:"first_date"`
	SecondDate string `json:"second_date"`
}

type CompareThreeDatesInput struct {
	FirstDate  string `json:"first_date"`
	SecondDate string `json:"second_date"`
	ThirdDate  string `json:"third_date"`
}

type DayDifferenceInput struct {
	Date  string `json:"date"`
	Delta int    `json:"delta"`
}

func dateParam(desc string) *schema.ParameterInfo {
	return &schema.ParameterInfo{
		Type:     schema.String,
		Desc:     desc + " Format YYYY-MM-DD, or one of: now, today, yesterday, tomorrow.",
		Required: true,
	}
}

func createCompareDatesTool(clock Clock) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCompareDates,
			Desc: "Check if first_date is before second_date.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"first_date":  dateParam("The date that may come first."),
				"second_date": dateParam("The date to compare against."),
			}),
		},
		func(ctx context.Context, in *CompareDatesInput) (bool, error) {
			first, err := clock.parseDate(in.FirstDate)
			if err != nil {
				return false, err
			}
			second, err := clock.parseDate(in.SecondDate)
			if err != nil {
				return false, err
			}
			return first.Before(second), nil
		},
	)
}

func createCompareThreeDatesTool(clock Clock) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolCompareThreeDates,
			Desc: "Check if first_date is between second_date and third_date, inclusive.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"first_date":  dateParam("The date to test."),
				"second_date": dateParam("Start of the range."),
				"third_date":  dateParam("End of the range."),
			}),
		},
		func(ctx context.Context, in *CompareThreeDatesInput) (bool, error) {
			var dates [3]time.Time
			for i, s := range []string{in.FirstDate, in.SecondDate, in.ThirdDate} {
				d, err := clock.parseDate(s)
				if err != nil {
					return false, err
				}
				dates[i] = d
			}
			return !dates[0].Before(dates[1]) && !dates[0].After(dates[2]), nil
		},
	)
}

func createDatetimeTool(clock Clock) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolDatetime,
			Desc: "Converts the given date string into a calendar date in YYYY-MM-DD format.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"date": dateParam("The date to convert."),
			}),
		},
		func(ctx context.Context, in *DateInput) (string, error) {
			d, err := clock.parseDate(in.Date)
			if err != nil {
				return "", err
			}
			return d.Format(dateLayout), nil
		},
	)
}

func createWeekdayNameTool(clock Clock) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolWeekdayName,
			Desc: "Returns the day of week of a given date string.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"date": dateParam("The date to look up."),
			}),
		},
		func(ctx context.Context, in *DateInput) (string, error) {
			d, err := clock.parseDate(in.Date)
			if err != nil {
				return "", err
			}
			return d.Weekday().String(), nil
		},
	)
}

func createDayDifferenceTool(clock Clock) tool.InvokableTool {
	return utils.NewTool(
		&schema.ToolInfo{
			Name: ToolDayDifference,
			Desc: "Returns the date that is delta days away from the given date, in YYYY-MM-DD format.",
			ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
				"date": dateParam("The starting date."),
				"delta": {
					Type:     schema.Integer,
					Desc:     "Number of days to move; negative moves back in time.",
					Required: true,
				},
			}),
		},
		func(ctx context.Context, in *DayDifferenceInput) (string, error) {
			d, err := clock.parseDate(in.Date)
			if err != nil {
				return "", err
			}
			return d.AddDate(0, 0, in.Delta).Format(dateLayout), nil
		},
	)
}
