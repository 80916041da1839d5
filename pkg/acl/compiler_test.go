package acl

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func orderOf(v int) *int { return &v }

func int64Ptr(v int64) *int64 { return &v }

func strPtr(v string) *string { return &v }

// setupCompiler seeds an in-memory store and returns a compiler on top of it
func setupCompiler(t *testing.T, users []*User, roles map[string][]Rule) *Compiler {
	t.Helper()

	store := NewMemoryStore()
	ctx := context.Background()
	for name, rules := range roles {
		if err := store.UpsertRole(ctx, name, rules); err != nil {
			t.Fatalf("failed to seed role %s: %v", name, err)
		}
	}
	for _, user := range users {
		if user.PasswordHash == "" {
			user.PasswordHash = "x"
		}
		if err := store.InsertUser(ctx, user); err != nil {
			t.Fatalf("failed to seed user %s: %v", user.Username, err)
		}
	}
	return NewCompiler(store, nil, nil)
}

func TestCompileUnknownUser(t *testing.T) {
	compiler := setupCompiler(t, nil, nil)

	_, err := compiler.Compile(context.Background(), "ghost")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestCompileFullBinding(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{
			Username: "WF-2-T-5",
			Roles:    []string{"wind_turbine"},
			Resources: []ResourceBinding{
				{Kind: "turbine", FarmID: int64Ptr(2), TurbineID: int64Ptr(5)},
			},
		}},
		map[string][]Rule{
			"wind_turbine": {
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/farm/{farm_id}/turbine/{turbine_id}/clean_telemetry", SortOrder: orderOf(10)},
				{Permission: PermissionAllow, Action: ActionSubscribe, TopicTemplate: "/farm/{farm_id}/turbine/{turbine_id}/commands", SortOrder: orderOf(20)},
				{Permission: PermissionDeny, Action: ActionAll, TopicTemplate: "#", SortOrder: orderOf(1000)},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "WF-2-T-5")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{
		{PermissionAllow, ActionPublish, "/farm/2/turbine/5/clean_telemetry"},
		{PermissionAllow, ActionSubscribe, "/farm/2/turbine/5/commands"},
		{PermissionDeny, ActionAll, "#"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileWildcardGeneralization(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{
			Username: "front_node_usr",
			Roles:    []string{"farm_consumer"},
			Resources: []ResourceBinding{
				{Kind: "farm", FarmID: int64Ptr(1)},
			},
		}},
		map[string][]Rule{
			"farm_consumer": {
				{Permission: PermissionAllow, Action: ActionSubscribe, TopicTemplate: "/farm/{farm_id}/turbine/{turbine_id}/clean_telemetry"},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "front_node_usr")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{
		{PermissionAllow, ActionSubscribe, "/farm/1/turbine/+/clean_telemetry"},
		{PermissionDeny, ActionAll, "#"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileHeuristicRequiresFarmKind(t *testing.T) {
	// Same shape as the wildcard case but the binding kind is not "farm",
	// so the pair is unbindable and contributes nothing.
	compiler := setupCompiler(t,
		[]*User{{
			Username: "oddball",
			Roles:    []string{"farm_consumer"},
			Resources: []ResourceBinding{
				{Kind: "region", FarmID: int64Ptr(1)},
			},
		}},
		map[string][]Rule{
			"farm_consumer": {
				{Permission: PermissionAllow, Action: ActionSubscribe, TopicTemplate: "/farm/{farm_id}/turbine/{turbine_id}/clean_telemetry"},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "oddball")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{{PermissionDeny, ActionAll, "#"}}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileBindingMissingMultiplePlaceholders(t *testing.T) {
	// The binding satisfies neither required placeholder and no heuristic
	// applies, so the pair contributes nothing.
	compiler := setupCompiler(t,
		[]*User{{
			Username: "tagged-only",
			Roles:    []string{"farm_consumer"},
			Resources: []ResourceBinding{
				{Kind: "turbine", Tag: strPtr("a")},
			},
		}},
		map[string][]Rule{
			"farm_consumer": {
				{Permission: PermissionAllow, Action: ActionSubscribe, TopicTemplate: "/farm/{farm_id}/turbine/{turbine_id}/clean_telemetry"},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "tagged-only")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{{PermissionDeny, ActionAll, "#"}}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileMarkerInsideBracesIsLiteral(t *testing.T) {
	// A ${username} marker embedded in braces is not a placeholder; the
	// surrounding braces are literal topic text and no binding is required.
	compiler := setupCompiler(t,
		[]*User{{
			Username: "bob",
			Roles:    []string{"r"},
		}},
		map[string][]Rule{
			"r": {
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/x/{farm${username}_id}"},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{
		{PermissionAllow, ActionPublish, "/x/{farmbob_id}"},
		{PermissionDeny, ActionAll, "#"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileUsernameSubstitution(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{
			Username: "bob",
			Roles:    []string{"tagged"},
			Resources: []ResourceBinding{
				{Kind: "tag", Tag: strPtr("alpha")},
			},
		}},
		map[string][]Rule{
			"tagged": {
				{Permission: PermissionAllow, Action: ActionSubscribe, TopicTemplate: "/users/${username}/{tag}"},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{
		{PermissionAllow, ActionSubscribe, "/users/bob/alpha"},
		{PermissionDeny, ActionAll, "#"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileNoPlaceholdersNeedsNoBindings(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{
			Username: "announcer",
			Roles:    []string{"broadcast"},
		}},
		map[string][]Rule{
			"broadcast": {
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/announcements"},
				{Permission: PermissionAllow, Action: ActionSubscribe, TopicTemplate: "/users/${username}/inbox"},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "announcer")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{
		{PermissionAllow, ActionPublish, "/announcements"},
		{PermissionAllow, ActionSubscribe, "/users/announcer/inbox"},
		{PermissionDeny, ActionAll, "#"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileEmptyTemplateSkipped(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{Username: "bob", Roles: []string{"r"}}},
		map[string][]Rule{
			"r": {
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: ""},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{{PermissionDeny, ActionAll, "#"}}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileSortOrder(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{Username: "bob", Roles: []string{"r"}}},
		map[string][]Rule{
			"r": {
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/late", SortOrder: orderOf(200)},
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/default-a"},
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/early", SortOrder: orderOf(1)},
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/default-b"},
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/zero", SortOrder: orderOf(0)},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	// Explicit 0 sorts before 1; absent means 100; ties keep declaration order.
	want := []Entry{
		{PermissionAllow, ActionPublish, "/zero"},
		{PermissionAllow, ActionPublish, "/early"},
		{PermissionAllow, ActionPublish, "/default-a"},
		{PermissionAllow, ActionPublish, "/default-b"},
		{PermissionAllow, ActionPublish, "/late"},
		{PermissionDeny, ActionAll, "#"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileDuplicateRolesCollapse(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{
			Username: "bob",
			Roles:    []string{"r", "r"},
		}},
		map[string][]Rule{
			"r": {
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/a"},
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/b"},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	// The second role expansion repeats the triples; dedup keeps the first
	// occurrence positions.
	want := []Entry{
		{PermissionAllow, ActionPublish, "/a"},
		{PermissionAllow, ActionPublish, "/b"},
		{PermissionDeny, ActionAll, "#"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileTerminalDenyNotDuplicated(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{Username: "bob", Roles: []string{"r"}}},
		map[string][]Rule{
			"r": {
				{Permission: PermissionDeny, Action: ActionAll, TopicTemplate: "#", SortOrder: orderOf(1000)},
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/a", SortOrder: orderOf(10)},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	deny := DenyAll()
	count := 0
	for _, e := range entries {
		if e == deny {
			count++
		}
	}
	if count != 1 {
		t.Errorf("expected exactly one deny-all entry, got %d in %v", count, entries)
	}
}

func TestCompileDenyHashOtherActionStillGetsTerminal(t *testing.T) {
	// A deny on "#" scoped to publish only is not the terminal entry; the
	// full deny-all must still be appended.
	compiler := setupCompiler(t,
		[]*User{{Username: "bob", Roles: []string{"r"}}},
		map[string][]Rule{
			"r": {
				{Permission: PermissionDeny, Action: ActionPublish, TopicTemplate: "#"},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{
		{PermissionDeny, ActionPublish, "#"},
		{PermissionDeny, ActionAll, "#"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileMissingRoleSkipped(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{Username: "bob", Roles: []string{"ghost", "r"}}},
		map[string][]Rule{
			"r": {
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/a"},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "bob")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{
		{PermissionAllow, ActionPublish, "/a"},
		{PermissionDeny, ActionAll, "#"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileMultipleBindingsExpandInOrder(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{
			Username: "operator",
			Roles:    []string{"r"},
			Resources: []ResourceBinding{
				{Kind: "turbine", FarmID: int64Ptr(1), TurbineID: int64Ptr(1)},
				{Kind: "turbine", FarmID: int64Ptr(1), TurbineID: int64Ptr(2)},
				{Kind: "farm", FarmID: int64Ptr(3)},
			},
		}},
		map[string][]Rule{
			"r": {
				{Permission: PermissionAllow, Action: ActionSubscribe, TopicTemplate: "/farm/{farm_id}/turbine/{turbine_id}/status"},
			},
		},
	)

	entries, err := compiler.Compile(context.Background(), "operator")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}

	want := []Entry{
		{PermissionAllow, ActionSubscribe, "/farm/1/turbine/1/status"},
		{PermissionAllow, ActionSubscribe, "/farm/1/turbine/2/status"},
		{PermissionAllow, ActionSubscribe, "/farm/3/turbine/+/status"},
		{PermissionDeny, ActionAll, "#"},
	}
	if !reflect.DeepEqual(entries, want) {
		t.Errorf("Compile() = %v, want %v", entries, want)
	}
}

func TestCompileDeterministic(t *testing.T) {
	compiler := setupCompiler(t,
		[]*User{{
			Username: "WF-1-T-1",
			Roles:    []string{"wind_turbine"},
			Resources: []ResourceBinding{
				{Kind: "turbine", FarmID: int64Ptr(1), TurbineID: int64Ptr(1)},
			},
		}},
		map[string][]Rule{
			"wind_turbine": {
				{Permission: PermissionAllow, Action: ActionPublish, TopicTemplate: "/farm/{farm_id}/turbine/{turbine_id}/clean_telemetry", SortOrder: orderOf(10)},
				{Permission: PermissionAllow, Action: ActionSubscribe, TopicTemplate: "/farm/{farm_id}/turbine/{turbine_id}/commands", SortOrder: orderOf(20)},
				{Permission: PermissionDeny, Action: ActionAll, TopicTemplate: "#", SortOrder: orderOf(1000)},
			},
		},
	)

	ctx := context.Background()
	first, err := compiler.Compile(ctx, "WF-1-T-1")
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := compiler.Compile(ctx, "WF-1-T-1")
		if err != nil {
			t.Fatalf("Compile failed: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("compilation is not deterministic: %v vs %v", first, again)
		}
	}
}
