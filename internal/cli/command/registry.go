package command

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

const opsPrefix = "/api/v1/ops"

// Registry returns all CLI commands keyed by "service action".
func Registry() map[string]Command {
	commands := []Command{
		{
			Service:      "stuck",
			Action:       "list",
			Summary:      "list jobs fetched by a machine that never reported back",
			Method:       "GET",
			PathTemplate: opsPrefix + "/stuck-jobs",
		},
		{
			Service:      "stuck",
			Action:       "requeue",
			Summary:      "clear the claim on a stuck job so another machine can fetch it",
			Method:       "POST",
			PathTemplate: opsPrefix + "/stuck-jobs/:file_id/requeue",
			Fields: []Field{
				{Name: "file_id", Aliases: []string{"file", "id"}, Prompt: "file_id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "machine",
			Action:       "list",
			Summary:      "list registered executor machines",
			Method:       "GET",
			PathTemplate: opsPrefix + "/machines",
		},
		{
			Service:      "machine",
			Action:       "eligible",
			Summary:      "list machines assigned to an assignment",
			Method:       "GET",
			PathTemplate: opsPrefix + "/assignments/:id/machines",
			Fields: []Field{
				{Name: "id", Aliases: []string{"assignment"}, Prompt: "assignment id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "machine",
			Action:       "assign",
			Summary:      "restrict an assignment's jobs to a machine",
			Method:       "PUT",
			PathTemplate: opsPrefix + "/assignments/:id/machines/:host",
			Fields: []Field{
				{Name: "id", Aliases: []string{"assignment"}, Prompt: "assignment id", Type: FieldString, Required: true},
				{Name: "host", Prompt: "machine host", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "machine",
			Action:       "unassign",
			Summary:      "remove a machine from an assignment",
			Method:       "DELETE",
			PathTemplate: opsPrefix + "/assignments/:id/machines/:host",
			Fields: []Field{
				{Name: "id", Aliases: []string{"assignment"}, Prompt: "assignment id", Type: FieldString, Required: true},
				{Name: "host", Prompt: "machine host", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "assignment",
			Action:       "list",
			Summary:      "list assignments",
			Method:       "GET",
			PathTemplate: opsPrefix + "/assignments",
		},
		{
			Service:      "assignment",
			Action:       "get",
			Summary:      "show one assignment",
			Method:       "GET",
			PathTemplate: opsPrefix + "/assignments/:id",
			Fields: []Field{
				{Name: "id", Prompt: "assignment id", Type: FieldString, Required: true},
			},
		},
		{
			Service:      "assignment",
			Action:       "save",
			Summary:      "create or replace an assignment from a yaml/json file and overrides",
			Method:       "PUT",
			PathTemplate: opsPrefix + "/assignments/:id",
			Fields: []Field{
				{Name: "id", Prompt: "assignment id", Type: FieldString, Required: true},
				{Name: "file", Aliases: []string{"spec_file"}, Type: FieldFile},
				{Name: "title", Type: FieldString},
				{Name: "course_id", Type: FieldString},
				{Name: "publish_at", Type: FieldString},
				{Name: "hard_deadline", Type: FieldString},
				{Name: "compile_test", Type: FieldBool},
				{Name: "compile_command", Type: FieldString},
				{Name: "validity_script_key", Type: FieldString},
				{Name: "full_script_key", Type: FieldString},
				{Name: "timeout_seconds", Aliases: []string{"timeout"}, Type: FieldInt},
				{Name: "owner_email", Type: FieldString},
				{Name: "owner_id", Type: FieldString},
				{Name: "tutors", Type: FieldStringList},
			},
		},
		{
			Service:      "script",
			Action:       "upload",
			Summary:      "upload the validate or full test script of an assignment",
			Method:       "PUT",
			PathTemplate: opsPrefix + "/assignments/:id/scripts/:kind",
			Fields: []Field{
				{Name: "id", Aliases: []string{"assignment"}, Prompt: "assignment id", Type: FieldString, Required: true},
				{Name: "kind", Prompt: "kind (validate|full)", Type: FieldString, Required: true},
				{Name: "file", Prompt: "script path", Type: FieldFile, Required: true},
				{Name: "name", Type: FieldString},
			},
		},
	}

	registry := make(map[string]Command, len(commands))
	for _, cmd := range commands {
		registry[cmd.Key()] = cmd
	}
	return registry
}

// Sorted returns the registry's commands ordered by key.
func Sorted(registry map[string]Command) []Command {
	list := make([]Command, 0, len(registry))
	for _, cmd := range registry {
		list = append(list, cmd)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].Key() < list[j].Key() })
	return list
}

// Missing returns the required fields params does not carry.
func Missing(cmd Command, params Params) []Field {
	var missing []Field
	for _, field := range cmd.Fields {
		if field.Required && strings.TrimSpace(params.Get(field.Name)) == "" {
			missing = append(missing, field)
		}
	}
	return missing
}

func BuildRequest(cmd Command, params Params) (RequestSpec, error) {
	params.Canonicalize(cmd.Fields)
	if missing := Missing(cmd, params); len(missing) > 0 {
		return RequestSpec{}, fmt.Errorf("missing parameter: %s", missing[0].Name)
	}
	path, err := buildPath(cmd.PathTemplate, params)
	if err != nil {
		return RequestSpec{}, err
	}

	headers := map[string]string{}
	var body []byte
	switch {
	case cmd.Service == "script" && cmd.Action == "upload":
		body, err = ReadFile(params.Get("file"))
		if err != nil {
			return RequestSpec{}, err
		}
		name := params.Get("name")
		if name == "" {
			name = baseName(params.Get("file"))
		}
		path += "?name=" + url.QueryEscape(name)
		headers["Content-Type"] = "application/octet-stream"
	case cmd.Method != "GET" && cmd.Method != "DELETE":
		payload, err := buildPayload(cmd, params)
		if err != nil {
			return RequestSpec{}, err
		}
		if payload != nil {
			body, err = json.Marshal(payload)
			if err != nil {
				return RequestSpec{}, fmt.Errorf("marshal request body failed: %w", err)
			}
		}
	}

	return RequestSpec{
		Method:  cmd.Method,
		Path:    path,
		Headers: headers,
		Body:    body,
	}, nil
}

func buildPath(template string, params Params) (string, error) {
	segments := strings.Split(template, "/")
	for i, segment := range segments {
		if !strings.HasPrefix(segment, ":") {
			continue
		}
		key := segment[1:]
		value := strings.TrimSpace(params.Get(key))
		if value == "" {
			return "", fmt.Errorf("missing path parameter: %s", key)
		}
		segments[i] = url.PathEscape(value)
	}
	return strings.Join(segments, "/"), nil
}

func buildPayload(cmd Command, params Params) (interface{}, error) {
	if cmd.Service == "assignment" && cmd.Action == "save" {
		return buildAssignmentPayload(cmd, params)
	}
	return nil, nil
}

// buildAssignmentPayload merges the optional definition file with the
// key=value overrides. Owner and tutors are given by email.
func buildAssignmentPayload(cmd Command, params Params) (interface{}, error) {
	payload := map[string]interface{}{}
	if file := params.Get("file"); file != "" {
		data, err := ReadFile(file)
		if err != nil {
			return nil, err
		}
		// yaml is a superset of json, so both formats decode here.
		if err := yaml.Unmarshal(data, &payload); err != nil {
			return nil, fmt.Errorf("parse assignment file failed: %w", err)
		}
	}

	for _, field := range cmd.Fields {
		value := params.Get(field.Name)
		if value == "" {
			continue
		}
		switch field.Name {
		case "id", "file", "owner_email", "owner_id", "tutors":
			continue
		}
		switch field.Type {
		case FieldInt:
			n, err := ParseInt(value)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			payload[field.Name] = n
		case FieldBool:
			b, err := ParseBool(value)
			if err != nil {
				return nil, fmt.Errorf("invalid %s: %w", field.Name, err)
			}
			payload[field.Name] = b
		default:
			payload[field.Name] = value
		}
	}

	if email := params.Get("owner_email"); email != "" {
		owner := map[string]interface{}{"email": email}
		if id := params.Get("owner_id"); id != "" {
			owner["user_id"] = id
		}
		payload["owner"] = owner
	}
	if tutors := ParseStringList(params.Get("tutors")); len(tutors) > 0 {
		list := make([]map[string]string, 0, len(tutors))
		for _, email := range tutors {
			list = append(list, map[string]string{"email": email})
		}
		payload["tutors"] = list
	}
	if title, _ := payload["title"].(string); strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("title is required")
	}
	return payload, nil
}

func baseName(path string) string {
	path = strings.TrimRight(path, "/")
	if i := strings.LastIndexAny(path, `/\`); i >= 0 {
		return path[i+1:]
	}
	return path
}
