package conversation

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/samber/lo"
)

func strp(s string) *string { return &s }

func TestBuildItemRejectsMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
	}{
		{"nil payload", nil},
		{"missing type", map[string]any{"id": "x"}},
		{"missing id", map[string]any{"type": "agentMessage"}},
		{"blank id", map[string]any{"type": "agentMessage", "id": "  "}},
		{"unknown type", map[string]any{"type": "contextCompaction", "id": "x"}},
		{"non-string type", map[string]any{"type": 7, "id": "x"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if item, ok := BuildItem(tt.raw); ok {
				t.Fatalf("BuildItem(%v) = %+v, want none", tt.raw, item)
			}
		})
	}
}

func TestBuildItemMessages(t *testing.T) {
	tests := []struct {
		name string
		raw  map[string]any
		want Item
	}{
		{
			name: "agent message",
			raw:  map[string]any{"type": "agentMessage", "id": "m1", "text": "Done."},
			want: Item{ID: "m1", Kind: KindMessage, Role: lo.ToPtr(RoleAssistant), Text: strp("Done.")},
		},
		{
			name: "empty agent message gets placeholder",
			raw:  map[string]any{"type": "agentMessage", "id": "m1", "text": ""},
			want: Item{ID: "m1", Kind: KindMessage, Role: lo.ToPtr(RoleAssistant), Text: strp("[message]")},
		},
		{
			name: "user message parts",
			raw: map[string]any{"type": "userMessage", "id": "u1", "content": []any{
				map[string]any{"type": "text", "text": "please run"},
				map[string]any{"type": "skill", "name": "lint"},
				map[string]any{"type": "image", "url": "data:image/png;base64,AAA"},
				map[string]any{"type": "mention", "name": "ignored"},
				map[string]any{"type": "localImage", "path": "/tmp/a.png"},
			}},
			want: Item{ID: "u1", Kind: KindMessage, Role: lo.ToPtr(RoleUser), Text: strp("please run $lint [image] [image]")},
		},
		{
			name: "user message without renderable parts",
			raw:  map[string]any{"type": "userMessage", "id": "u2", "content": []any{}},
			want: Item{ID: "u2", Kind: KindMessage, Role: lo.ToPtr(RoleUser), Text: strp("[message]")},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BuildItem(tt.raw)
			if !ok {
				t.Fatal("BuildItem returned none")
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("BuildItem mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBuildItemReasoning(t *testing.T) {
	got, ok := BuildItem(map[string]any{
		"type":    "reasoning",
		"id":      "r1",
		"summary": []any{"**Plan**", "read files"},
		"content": "raw thoughts",
	})
	if !ok {
		t.Fatal("BuildItem returned none")
	}
	want := Item{ID: "r1", Kind: KindReasoning, Summary: strp("**Plan**\nread files"), Content: strp("raw thoughts")}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reasoning mismatch (-want +got):\n%s", diff)
	}

	// 缺失字段保持 nil, 合并时不覆盖
	partial, _ := BuildItem(map[string]any{"type": "reasoning", "id": "r2"})
	if partial.Summary != nil || partial.Content != nil {
		t.Fatalf("absent reasoning fields should stay nil: %+v", partial)
	}
}

func TestBuildItemCommandExecution(t *testing.T) {
	got, _ := BuildItem(map[string]any{
		"type":             "commandExecution",
		"id":               "c1",
		"command":          []any{"go", "test", "./..."},
		"cwd":              "/repo",
		"status":           "completed",
		"aggregatedOutput": "ok\n",
		"durationMs":       float64(1250),
	})
	want := Item{
		ID:         "c1",
		Kind:       KindTool,
		ToolType:   strp(ToolCommandExecution),
		Title:      strp("Command: go test ./..."),
		Detail:     strp("/repo"),
		Status:     strp("completed"),
		Output:     strp("ok\n"),
		DurationMS: lo.ToPtr(int64(1250)),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("command mismatch (-want +got):\n%s", diff)
	}

	bare, _ := BuildItem(map[string]any{"type": "commandExecution", "id": "c2", "command": []any{}})
	if bare.Title == nil || *bare.Title != "Command" {
		t.Fatalf("empty argv title = %v, want Command", bare.Title)
	}
	if bare.Output != nil || bare.Status != nil {
		t.Fatalf("absent fields should stay nil: %+v", bare)
	}

	str, _ := BuildItem(map[string]any{"type": "commandExecution", "id": "c3", "command": "bash -lc ls"})
	if *str.Title != "Command: bash -lc ls" {
		t.Fatalf("string command title = %q", *str.Title)
	}
}

func TestBuildItemFileChange(t *testing.T) {
	got, _ := BuildItem(map[string]any{
		"type":   "fileChange",
		"id":     "f1",
		"status": map[string]any{"type": "inProgress"},
		"changes": []any{
			map[string]any{"path": "a.go", "kind": "add", "diff": "+a"},
			map[string]any{"path": "", "kind": "add", "diff": "+dropped"},
			map[string]any{"path": "b.go", "kind": map[string]any{"type": "delete"}},
			map[string]any{"path": "c.go", "kind": "update", "diff": "-c\n+c"},
			map[string]any{"path": "d.go", "kind": "rename"},
		},
	})
	want := Item{
		ID:       "f1",
		Kind:     KindTool,
		ToolType: strp(ToolFileChange),
		Title:    strp("File changes"),
		Status:   strp("inProgress"),
		Detail:   strp("A a.go, D b.go, M c.go, d.go"),
		Output:   strp("+a\n\n-c\n+c"),
		Changes: []ToolChange{
			{Path: "a.go", Kind: lo.ToPtr(ChangeAdd), Diff: strp("+a")},
			{Path: "b.go", Kind: lo.ToPtr(ChangeDelete)},
			{Path: "c.go", Kind: lo.ToPtr(ChangeModify), Diff: strp("-c\n+c")},
			{Path: "d.go"},
		},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("fileChange mismatch (-want +got):\n%s", diff)
	}

	pending, _ := BuildItem(map[string]any{"type": "fileChange", "id": "f2", "changes": []any{}})
	if *pending.Detail != "Pending changes" || pending.Output != nil {
		t.Fatalf("empty changes = %+v", pending)
	}
	if pending.Changes == nil {
		t.Fatal("present-but-empty changes should be non-nil")
	}
}

func TestBuildItemMCPToolCall(t *testing.T) {
	got, _ := BuildItem(map[string]any{
		"type":      "mcpToolCall",
		"id":        "t1",
		"server":    "github",
		"tool":      "search",
		"status":    "completed",
		"arguments": map[string]any{"q": "reconcile"},
		"result":    map[string]any{"content": []any{map[string]any{"type": "text", "text": "3 hits"}}},
	})
	want := Item{
		ID:       "t1",
		Kind:     KindTool,
		ToolType: strp(ToolMCPCall),
		Title:    strp("Tool: github / search"),
		Status:   strp("completed"),
		Detail:   strp("{\n  \"q\": \"reconcile\"\n}"),
		Output:   strp("3 hits"),
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("mcp mismatch (-want +got):\n%s", diff)
	}

	failed, _ := BuildItem(map[string]any{
		"type":   "mcpToolCall",
		"id":     "t2",
		"server": "github",
		"tool":   "search",
		"result": nil,
		"error":  map[string]any{"message": "rate limited"},
	})
	if failed.Output == nil || *failed.Output != "rate limited" {
		t.Fatalf("error output = %v, want rate limited", failed.Output)
	}
}

func TestBuildItemCollabToolCall(t *testing.T) {
	tests := []struct {
		name       string
		raw        map[string]any
		wantTitle  string
		wantDetail string
		wantOutput string
	}{
		{
			name: "list receivers with states",
			raw: map[string]any{
				"type":              "collabAgentToolCall",
				"id":                "k1",
				"tool":              "spawn_agent",
				"senderThreadId":    "thr-main",
				"receiverThreadIds": []any{"thr-a", "thr-b"},
				"prompt":            "split the work",
				"agentsStates": map[string]any{
					"thr-b": map[string]any{"status": "running"},
					"thr-a": map[string]any{"status": "completed", "message": "done"},
				},
			},
			wantTitle:  "Collab: spawn_agent",
			wantDetail: "From thr-main → thr-a, thr-b",
			wantOutput: "split the work\n\nthr-a: completed (done)\nthr-b: running",
		},
		{
			name: "legacy single receiver",
			raw: map[string]any{
				"type":             "collabToolCall",
				"id":               "k2",
				"senderThreadId":   "thr-main",
				"receiverThreadId": "thr-c",
				"newThreadId":      "thr-c",
				"agentStatus":      []any{map[string]any{"threadId": "thr-c", "status": "pendingInit"}},
			},
			wantTitle:  "Collab tool call",
			wantDetail: "From thr-main → thr-c",
			wantOutput: "thr-c: pendingInit",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := BuildItem(tt.raw)
			if !ok {
				t.Fatal("BuildItem returned none")
			}
			if got.Kind != KindTool {
				t.Fatalf("kind = %q, want tool", got.Kind)
			}
			if *got.Title != tt.wantTitle {
				t.Errorf("title = %q, want %q", *got.Title, tt.wantTitle)
			}
			if *got.Detail != tt.wantDetail {
				t.Errorf("detail = %q, want %q", *got.Detail, tt.wantDetail)
			}
			if *got.Output != tt.wantOutput {
				t.Errorf("output = %q, want %q", *got.Output, tt.wantOutput)
			}
		})
	}
}

func TestBuildItemSearchImageReview(t *testing.T) {
	search, _ := BuildItem(map[string]any{"type": "webSearch", "id": "w1", "query": "go generics"})
	if *search.Title != "Web search" || *search.Detail != "go generics" || !search.IsTool(ToolWebSearch) {
		t.Errorf("webSearch = %+v", search)
	}

	img, _ := BuildItem(map[string]any{"type": "imageView", "id": "i1", "path": "/tmp/shot.png"})
	if *img.Title != "Image view" || *img.Detail != "/tmp/shot.png" {
		t.Errorf("imageView = %+v", img)
	}

	entered, _ := BuildItem(map[string]any{"type": "enteredReviewMode", "id": "rv1", "review": "current changes"})
	exited, _ := BuildItem(map[string]any{"type": "exitedReviewMode", "id": "rv2", "review": "Looks good"})
	if entered.Kind != KindReview || *entered.State != ReviewStarted {
		t.Errorf("entered = %+v", entered)
	}
	if exited.Kind != KindReview || *exited.State != ReviewCompleted || exited.TextValue() != "Looks good" {
		t.Errorf("exited = %+v", exited)
	}
}

func TestRecognizedTypesIsClosed(t *testing.T) {
	want := []string{
		"agentMessage", "collabAgentToolCall", "collabToolCall", "commandExecution",
		"enteredReviewMode", "exitedReviewMode", "fileChange", "imageView",
		"mcpToolCall", "reasoning", "userMessage", "webSearch",
	}
	if diff := cmp.Diff(want, RecognizedTypes()); diff != "" {
		t.Fatalf("recognized types mismatch (-want +got):\n%s", diff)
	}
}
