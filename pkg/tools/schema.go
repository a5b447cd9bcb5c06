package tools

// Schema describes one tool for the model API.
type Schema struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Schemas returns the built-in tool definitions in the order they are
// advertised to the model.
func Schemas() []Schema {
	return []Schema{
		{
			Name:        "file_read",
			Description: "Read a file from the working directory. Returns numbered lines.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File path, absolute or relative to the working directory",
					},
					"offset": map[string]any{
						"type":        "integer",
						"description": "1-based line to start from (default 1)",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of lines to return (default 2000)",
					},
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "file_write",
			Description: "Write content to a file in the working directory, creating parent directories as needed.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"path": map[string]any{
						"type":        "string",
						"description": "File path, absolute or relative to the working directory",
					},
					"content": map[string]any{
						"type":        "string",
						"description": "Full file content; the file is overwritten",
					},
				},
				"required": []string{"path", "content"},
			},
		},
		{
			Name:        "bash",
			Description: "Run a shell command in the working directory and return combined stdout/stderr.",
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"command": map[string]any{
						"type":        "string",
						"description": "Command to execute with bash -c",
					},
					"timeout": map[string]any{
						"type":        "integer",
						"description": "Timeout in seconds (default 120)",
					},
				},
				"required": []string{"command"},
			},
		},
	}
}
