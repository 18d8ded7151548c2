package gateway

import "testing"

func TestPlanSceneCoalescesPerModuleGroup(t *testing.T) {
	entries := []SceneEntry{
		{ModuleAddress: "4707", Channel: 1, Value: 0xFF},
		{ModuleAddress: "4707", Channel: 3, Value: 0x80},
		{ModuleAddress: "4707", Channel: 8, Value: 0x00},
		{ModuleAddress: "C9A5", Channel: 2, Value: 0xFF},
	}

	plan := PlanScene(entries)
	if len(plan) != 3 {
		t.Fatalf("expected 3 coalesced steps, got %d: %+v", len(plan), plan)
	}

	if plan[0].ModuleAddress != "4707" || plan[0].Group != 1 {
		t.Fatalf("expected first step to be 4707 group 1, got %+v", plan[0])
	}
	if len(plan[0].Values) != 2 || plan[0].Values[1] != 0xFF || plan[0].Values[3] != 0x80 {
		t.Fatalf("unexpected group-1 values: %+v", plan[0].Values)
	}

	if plan[1].ModuleAddress != "4707" || plan[1].Group != 2 {
		t.Fatalf("expected second step to be 4707 group 2, got %+v", plan[1])
	}

	if plan[2].ModuleAddress != "C9A5" || plan[2].Group != 1 {
		t.Fatalf("expected third step to be C9A5 group 1, got %+v", plan[2])
	}
}

func TestPlanSceneSingleChannelNoSpuriousGroup(t *testing.T) {
	entries := []SceneEntry{
		{ModuleAddress: "9105", Channel: 1, Value: 0x01},
	}
	plan := PlanScene(entries)
	if len(plan) != 1 {
		t.Fatalf("expected a single step for a single-channel scene, got %d", len(plan))
	}
	if plan[0].Group != 1 {
		t.Fatalf("expected group 1, got %d", plan[0].Group)
	}
}
