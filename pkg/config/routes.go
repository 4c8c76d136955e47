package config

import (
	"fmt"
	"os"

	"github.com/polisai/taskgate/pkg/domain"
	"gopkg.in/yaml.v3"
)

// DefaultRoutes is the resource table of the task/project application. Order matters:
// literal segments must precede the placeholder route they would otherwise match.
func DefaultRoutes() []domain.ResourceRoute {
	return []domain.ResourceRoute{
		{Template: "/projects", Label: "ProjectListAPI", Methods: []string{"GET", "POST"}},
		{Template: "/projects/{id}", Label: "ProjectDetailAPI", Methods: []string{"GET", "PUT", "PATCH", "DELETE"}},
		{Template: "/tasks", Label: "TaskListAPI", Methods: []string{"GET", "POST"}},
		{Template: "/tasks/{id}", Label: "TaskDetailAPI", Methods: []string{"GET", "PUT", "PATCH", "DELETE"}},
		{Template: "/tasks/{id}/activities", Label: "TaskActivitiesAPI", Methods: []string{"GET"}},
		{Template: "/tasks/{id}/comments", Label: "TaskCommentsAPI", Methods: []string{"GET", "POST"}},
		{Template: "/users", Label: "UserListAPI", Methods: []string{"GET"}},
		{Template: "/users/profile", Label: "UserProfileAPI", Methods: []string{"GET", "PUT", "PATCH"}},
		{Template: "/users/{id}", Label: "UserDetailAPI", Methods: []string{"GET", "PUT", "PATCH", "DELETE"}},
	}
}

// LoadRoutes reads only the resources section of a config file. Missing files and
// empty sections yield DefaultRoutes; the backend and token sections are not required.
func LoadRoutes(path string) ([]domain.ResourceRoute, error) {
	routes := DefaultRoutes()
	if path != "" {
		//nolint:gosec // Config file path is controlled by admin/operator
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		var doc struct {
			Resources []domain.ResourceRoute `yaml:"resources"`
		}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		if len(doc.Resources) > 0 {
			routes = doc.Resources
		}
	}
	if err := ValidateRoutes(routes); err != nil {
		return nil, fmt.Errorf("resources configuration: %w", err)
	}
	return routes, nil
}
