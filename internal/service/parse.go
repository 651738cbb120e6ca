package service

import (
	"regexp"
	"strings"
)

// ApplyPlan is the parsed form of an AI generation response: the files to
// write, commands to run, and packages to install, in response order.
type ApplyPlan struct {
	Files       []PlanFile
	Commands    []string
	Packages    []string
	Explanation string
	Structure   string
}

// PlanFile is one file the plan writes.
type PlanFile struct {
	Path    string
	Content string
}

// Steps returns how many progress phases the plan will produce.
func (p *ApplyPlan) Steps() int {
	steps := 0
	if len(p.Packages) > 0 {
		steps++
	}
	if len(p.Files) > 0 {
		steps++
	}
	if len(p.Commands) > 0 {
		steps++
	}
	return steps
}

var (
	fileRe        = regexp.MustCompile(`(?s)<file\s+path="([^"]+)"\s*>(.*?)</file>`)
	commandRe     = regexp.MustCompile(`(?s)<command>(.*?)</command>`)
	packagesRe    = regexp.MustCompile(`(?s)<packages>(.*?)</packages>`)
	packageRe     = regexp.MustCompile(`(?s)<package>(.*?)</package>`)
	explanationRe = regexp.MustCompile(`(?s)<explanation>(.*?)</explanation>`)
	structureRe   = regexp.MustCompile(`(?s)<structure>(.*?)</structure>`)
)

// ParseResponse extracts an ApplyPlan from the model's tagged output.
// Unknown text outside tags is ignored. File contents keep their leading
// newline stripped but are otherwise verbatim.
func ParseResponse(response string) *ApplyPlan {
	plan := &ApplyPlan{}

	for _, match := range fileRe.FindAllStringSubmatch(response, -1) {
		path := strings.TrimSpace(match[1])
		if path == "" {
			continue
		}
		content := match[2]
		content = strings.TrimPrefix(content, "\n")
		plan.Files = append(plan.Files, PlanFile{Path: path, Content: content})
	}

	for _, match := range commandRe.FindAllStringSubmatch(response, -1) {
		if cmd := strings.TrimSpace(match[1]); cmd != "" {
			plan.Commands = append(plan.Commands, cmd)
		}
	}

	seen := make(map[string]bool)
	addPackage := func(name string) {
		name = strings.TrimSpace(name)
		if name != "" && !seen[name] {
			seen[name] = true
			plan.Packages = append(plan.Packages, name)
		}
	}
	for _, match := range packagesRe.FindAllStringSubmatch(response, -1) {
		for _, name := range strings.FieldsFunc(match[1], func(r rune) bool {
			return r == '\n' || r == ',' || r == ' ' || r == '\t'
		}) {
			addPackage(name)
		}
	}
	for _, match := range packageRe.FindAllStringSubmatch(response, -1) {
		addPackage(match[1])
	}

	if match := explanationRe.FindStringSubmatch(response); match != nil {
		plan.Explanation = strings.TrimSpace(match[1])
	}
	if match := structureRe.FindStringSubmatch(response); match != nil {
		plan.Structure = strings.TrimSpace(match[1])
	}

	return plan
}
