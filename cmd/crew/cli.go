// Package main defines the CLI structure using kong.
package main

import "github.com/alecthomas/kong"

// Globals are flags shared by every command.
type Globals struct {
	Config    string `short:"c" help:"Config file path (default: ./crew.toml)"`
	Policy    string `help:"Policy file path for built-in tools"`
	Workspace string `help:"Workspace directory for file tools"`
	Verbose   bool   `short:"v" help:"Print model deltas and notices as they arrive"`
}

// CLI defines the command-line interface.
type CLI struct {
	Globals

	Chat    ChatCmd    `cmd:"" help:"Send a message to an agent"`
	Agent   AgentCmd   `cmd:"" help:"Manage agents"`
	Task    TaskCmd    `cmd:"" help:"Manage and run tasks"`
	Team    TeamCmd    `cmd:"" help:"Manage and run teams"`
	Session SessionCmd `cmd:"" help:"Export and import session transcripts"`
	Catalog CatalogCmd `cmd:"" help:"Seed agents and teams from a definition file"`
	Worker  WorkerCmd  `cmd:"" help:"Run a background worker"`
	Serve   ServeCmd   `cmd:"" help:"Serve the HTTP API"`
	Version VersionCmd `cmd:"" help:"Show version information"`
}

// ChatCmd sends one message, or reads messages from stdin until EOF.
type ChatCmd struct {
	Agent     string `arg:"" help:"Agent name or ID"`
	Message   string `arg:"" optional:"" help:"Message to send (reads lines from stdin when omitted)"`
	Session   string `short:"s" help:"Session ID (default: the agent's own session)"`
	NoStream  bool   `help:"Print replies only once each turn completes"`
	NoHistory bool   `help:"Do not record the exchange in the session"`
}

// AgentCmd groups agent commands.
type AgentCmd struct {
	List   AgentListCmd   `cmd:"" help:"List stored agents"`
	Create AgentCreateCmd `cmd:"" help:"Create an agent"`
}

// AgentListCmd lists agents.
type AgentListCmd struct{}

// AgentCreateCmd creates an agent record.
type AgentCreateCmd struct {
	Name     string   `arg:"" help:"Agent name"`
	Prompt   string   `short:"p" help:"System prompt"`
	Model    string   `short:"m" help:"Model name (default: [llm] model)"`
	Provider string   `help:"Provider name"`
	Profile  string   `help:"Named LLM profile from the config"`
	Tools    []string `short:"t" help:"Tool names, or 'all' (repeatable)"`
	Sub      []string `help:"Sub-agent names or IDs (repeatable)"`
}

// TaskCmd groups task commands.
type TaskCmd struct {
	Create TaskCreateCmd `cmd:"" help:"Create a task"`
	Steps  TaskStepsCmd  `cmd:"" help:"Generate step instructions with an instructor agent"`
	Run    TaskRunCmd    `cmd:"" help:"Run a task in the foreground"`
	Submit TaskSubmitCmd `cmd:"" help:"Queue a task for a background worker"`
	Show   TaskShowCmd   `cmd:"" help:"Show a task and its review trail"`
}

// TaskCreateCmd creates a task.
type TaskCreateCmd struct {
	Title       string   `arg:"" help:"Task title"`
	Description string   `short:"d" help:"Task description"`
	Agents      []string `short:"a" help:"Assigned agent names or IDs; the first is primary (repeatable)"`
	Step        []string `short:"s" help:"Step instruction (repeatable)"`
}

// TaskStepsCmd asks an instructor agent for steps.
type TaskStepsCmd struct {
	Task       string `arg:"" help:"Task ID"`
	Instructor string `arg:"" help:"Instructor agent name or ID"`
}

// TaskRunCmd runs a task in the foreground.
type TaskRunCmd struct {
	Task string `arg:"" help:"Task ID"`
}

// TaskSubmitCmd queues a task.
type TaskSubmitCmd struct {
	Task string `arg:"" help:"Task ID"`
	Kind string `enum:"auto,task,team_task" default:"auto" help:"Job kind: auto, task or team_task"`
}

// TaskShowCmd prints a task.
type TaskShowCmd struct {
	Task string `arg:"" help:"Task ID"`
}

// TeamCmd groups team commands.
type TeamCmd struct {
	Create TeamCreateCmd `cmd:"" help:"Create a team"`
	Assign TeamAssignCmd `cmd:"" help:"Assign a task to a team"`
	Run    TeamRunCmd    `cmd:"" help:"Run a task with its team in the foreground"`
}

// TeamCreateCmd creates a team.
type TeamCreateCmd struct {
	Name        string   `arg:"" help:"Team name"`
	Description string   `short:"d" help:"Team description"`
	Agents      []string `short:"a" help:"Member agent names or IDs (repeatable)"`
	Leader      string   `short:"l" help:"Leader agent name or ID (must be a member)"`
}

// TeamAssignCmd links a task to a team.
type TeamAssignCmd struct {
	Team string `arg:"" help:"Team ID"`
	Task string `arg:"" help:"Task ID"`
}

// TeamRunCmd runs a team task.
type TeamRunCmd struct {
	Task string `arg:"" help:"Task ID (must be assigned to a team)"`
}

// SessionCmd groups transcript commands.
type SessionCmd struct {
	Show   SessionShowCmd   `cmd:"" help:"Replay a session transcript"`
	Export SessionExportCmd `cmd:"" help:"Write a session as JSONL"`
	Import SessionImportCmd `cmd:"" help:"Restore a session from JSONL"`
}

// SessionShowCmd renders a stored session or an exported transcript.
type SessionShowCmd struct {
	Session string `arg:"" help:"Session ID or JSONL transcript file"`
}

// SessionExportCmd writes a transcript.
type SessionExportCmd struct {
	Session string `arg:"" help:"Session ID"`
	Output  string `short:"o" help:"Output file (default: stdout)"`
}

// SessionImportCmd restores a transcript.
type SessionImportCmd struct {
	File string `arg:"" type:"existingfile" help:"JSONL transcript file"`
}

// CatalogCmd groups definition file commands.
type CatalogCmd struct {
	Load CatalogLoadCmd `cmd:"" help:"Seed agents and teams from a YAML file"`
}

// CatalogLoadCmd seeds a catalog file.
type CatalogLoadCmd struct {
	File  string `arg:"" optional:"" help:"Definition file (default: [catalog] path)"`
	Watch bool   `short:"w" help:"Keep running and re-seed when the file changes"`
}

// WorkerCmd consumes background jobs.
type WorkerCmd struct {
	Concurrency int    `short:"n" help:"Jobs run at once (default: [worker] concurrency)"`
	NATS        string `name:"nats" help:"NATS server URL (default: [worker] nats_url)"`
}

// ServeCmd serves the HTTP API.
type ServeCmd struct {
	Addr     string `help:"Listen address (default: [server] addr)"`
	InWorker bool   `help:"Run a worker in the same process on a local queue"`
}

// VersionCmd shows version information.
type VersionCmd struct{}

// kongVars returns variables for kong (version info).
func kongVars() kong.Vars {
	return kong.Vars{
		"version": version,
	}
}
