package attendance

import (
	"regexp"
	"strings"
	"time"

	"github.com/trezcool/rollcall/core"
)

const unknownPart = "Unknown"

var moduleNameRe = regexp.MustCompile(`^Y(\d+)_B(\w+?)_(.+)$`)

// Module is a course module and its attendance rules.
type Module struct {
	Name          string    `json:"name" validate:"notblank"`
	Threshold     float64   `json:"threshold" validate:"gt=0,lte=1"`
	RequiredTotal int       `json:"required_total" validate:"gt=0"`
	CreatedAt     time.Time `json:"created_at"` // UTC
	UpdatedAt     time.Time `json:"updated_at"` // UTC
}

// NewModule contains information needed to register a module.
type NewModule struct {
	Name          string  `json:"name" validate:"notblank,max=200"`
	Threshold     float64 `json:"threshold" validate:"gt=0,lte=1"`
	RequiredTotal int     `json:"required_total" validate:"gt=0"`
}

func (nm *NewModule) Validate() error {
	nm.Name = core.CleanString(nm.Name)
	if err := core.NewValidator().Struct(nm); err != nil {
		return core.NewFieldsValidationError(err)
	}
	return nil
}

// ModuleName is the parsed form of a "Y<year>_B<batch>_<Name>" module name.
type ModuleName struct {
	Year  string `json:"year"`
	Batch string `json:"batch"`
	Title string `json:"title"`
}

// ParseModuleName splits a module name. Parts that cannot be read are "Unknown".
func ParseModuleName(name string) ModuleName {
	name = strings.TrimSpace(name)
	m := moduleNameRe.FindStringSubmatch(name)
	if m == nil {
		title := name
		if title == "" {
			title = unknownPart
		}
		return ModuleName{Year: unknownPart, Batch: unknownPart, Title: title}
	}
	return ModuleName{Year: m[1], Batch: m[2], Title: strings.ReplaceAll(m[3], "_", " ")}
}

// Cohort returns the normalized year of the students following the module, "" when unknown.
func (mn ModuleName) Cohort() string {
	if mn.Year == unknownPart {
		return ""
	}
	return NormalizeYear(mn.Year)
}
