package schemas

import "testing"

func TestTaskCreateSchemaDefaultsAndTrim(t *testing.T) {
	req := TaskCreateRequest{
		URL:      "  https://example.com/watch?v=1  ",
		Filename: "  ../clips/holiday.mp4 ",
	}
	if issues := TaskCreateSchema.Validate(&req); len(issues) > 0 {
		t.Fatalf("expected no issues, got %v", issues)
	}
	if req.URL != "https://example.com/watch?v=1" {
		t.Fatalf("expected trimmed url, got %q", req.URL)
	}
	if req.FormatID != "best" {
		t.Fatalf("expected default format, got %q", req.FormatID)
	}
	if req.Filename != "_clips_holiday.mp4" {
		t.Fatalf("expected flattened filename, got %q", req.Filename)
	}
}

func TestTaskCreateSchemaRequiresURL(t *testing.T) {
	req := TaskCreateRequest{}
	if issues := TaskCreateSchema.Validate(&req); len(issues) == 0 {
		t.Fatalf("expected validation issues")
	}
}

func TestTaskCreateSchemaRejectsBadURL(t *testing.T) {
	req := TaskCreateRequest{URL: "not a url"}
	if issues := TaskCreateSchema.Validate(&req); len(issues) == 0 {
		t.Fatalf("expected validation issues")
	}
}

func TestJobSpecFromRequest(t *testing.T) {
	req := TaskCreateRequest{URL: "https://example.com", FormatID: FormatMP3, Filename: "song", Cookies: "jar"}
	spec := req.JobSpec()
	if spec.Source != req.URL || spec.FormatID != FormatMP3 || spec.Filename != "song" || spec.Cookies != "jar" {
		t.Fatalf("unexpected spec %+v", spec)
	}
}
