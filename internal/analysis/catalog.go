package analysis

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Role tags what an endpoint's result means to the dashboard layout.
type Role string

const (
	RoleTopReferers      Role = "top-referers"
	RoleTopPageVisits    Role = "top-page-visits"
	RoleCheckDomains     Role = "check-domains"
	RoleRequestStatus    Role = "request-status"
	Role404ErrorIPs      Role = "404-error-ips"
	Role429ErrorIPs      Role = "429-error-ips"
	RoleBurstActivity    Role = "burst-activity"
	RoleDataExfiltration Role = "data-exfiltration"
	RoleActivityTimeline Role = "activity-timeline"
	RoleOther            Role = "other"
)

var knownRoles = map[Role]struct{}{
	RoleTopReferers:      {},
	RoleTopPageVisits:    {},
	RoleCheckDomains:     {},
	RoleRequestStatus:    {},
	Role404ErrorIPs:      {},
	Role429ErrorIPs:      {},
	RoleBurstActivity:    {},
	RoleDataExfiltration: {},
	RoleActivityTimeline: {},
	RoleOther:            {},
}

// Endpoint is one analysis source of the batch.
type Endpoint struct {
	Role  Role   `json:"role" yaml:"role"`
	Path  string `json:"path" yaml:"path"`
	Title string `json:"title" yaml:"title"`
	Info  string `json:"info,omitempty" yaml:"info,omitempty"`
}

// DefaultCatalog is the fixed, ordered endpoint list served by the analysis
// backend.
func DefaultCatalog() []Endpoint {
	return []Endpoint{
		{Role: RoleTopReferers, Path: "/top-referers", Title: "Top Referers", Info: "External referer domains ranked by request count."},
		{Role: RoleTopPageVisits, Path: "/top-page-visits", Title: "Top Page Visits", Info: "Most requested internal paths."},
		{Role: RoleCheckDomains, Path: "/check-domains", Title: "Check Domains", Info: "Referer domains checked against VirusTotal."},
		{Role: RoleRequestStatus, Path: "/request-status", Title: "Request Status", Info: "Allowed, blocked and server-error traffic."},
		{Role: Role404ErrorIPs, Path: "/404-error-ips", Title: "404 Error IPs", Info: "Clients producing many 404s, a sign of endpoint scanning."},
		{Role: Role429ErrorIPs, Path: "/429-error-ips", Title: "429 Error IPs", Info: "Clients hitting rate limits, possible scraping or brute force."},
		{Role: RoleBurstActivity, Path: "/burstActivity", Title: "Burst Activity", Info: "Clients with bursts of errors inside a one-minute window."},
		{Role: RoleDataExfiltration, Path: "/get-data-exfiltration", Title: "Data Exfiltration", Info: "Large POST/PUT requests to unknown destinations."},
		{Role: RoleActivityTimeline, Path: "/activity-timeline", Title: "Activity Timeline", Info: "Requests over time."},
	}
}

type catalogFile struct {
	Endpoints []Endpoint `yaml:"endpoints"`
}

// LoadCatalog reads an ordered endpoint list from a YAML file of the form
//
//	endpoints:
//	  - role: top-referers
//	    path: /top-referers
//	    title: Top Referers
//
// An empty path returns DefaultCatalog.
func LoadCatalog(path string) ([]Endpoint, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultCatalog(), nil
	}
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read endpoint catalog: %w", err)
	}
	return ParseCatalog(blob)
}

// ParseCatalog decodes and validates a YAML endpoint catalog.
func ParseCatalog(blob []byte) ([]Endpoint, error) {
	var file catalogFile
	if err := yaml.Unmarshal(blob, &file); err != nil {
		return nil, fmt.Errorf("parse endpoint catalog: %w", err)
	}
	if len(file.Endpoints) == 0 {
		return nil, fmt.Errorf("endpoint catalog is empty")
	}

	out := make([]Endpoint, 0, len(file.Endpoints))
	for i, ep := range file.Endpoints {
		ep.Path = strings.TrimSpace(ep.Path)
		ep.Title = strings.TrimSpace(ep.Title)
		if ep.Path == "" {
			return nil, fmt.Errorf("endpoint %d: path required", i)
		}
		if !strings.HasPrefix(ep.Path, "/") {
			ep.Path = "/" + ep.Path
		}
		if ep.Role == "" {
			ep.Role = RoleOther
		}
		if _, ok := knownRoles[ep.Role]; !ok {
			return nil, fmt.Errorf("endpoint %d: unknown role %q", i, ep.Role)
		}
		if ep.Title == "" {
			ep.Title = fmt.Sprintf("Dataset %d", i+1)
		}
		out = append(out, ep)
	}
	return out, nil
}
