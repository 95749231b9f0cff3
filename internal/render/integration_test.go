package render

import (
	"context"
	"errors"
	"testing"

	"clipforge/internal/testsupport/renderstub"
)

func newFarmClient(t *testing.T, farm *renderstub.Farm) *Client {
	t.Helper()
	client, err := NewClient(Config{
		BaseURL:       farm.BaseURL(),
		AccessKey:     "farm-access",
		SecretKey:     "farm-secret",
		DefaultRegion: "eu-central-1",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return client
}

func TestClientFullRenderFlowAgainstFarm(t *testing.T) {
	farm := renderstub.Start(renderstub.Options{
		FunctionName:     "clipforge-render",
		ServeURL:         "https://sites.example.com/promo-bundle",
		SiteBucket:       "sites-bucket",
		ConcurrencyLimit: 3,
		RenderID:         "render-42",
		OutputBucket:     "renders-bucket",
		AccessKey:        "farm-access",
		SecretKey:        "farm-secret",
		ProgressSequence: []map[string]any{
			{"done": false, "overallProgress": 0.25},
			{"done": true, "outputFile": "s3://renders-bucket/out.mp4", "overallProgress": 1.0},
		},
	})
	defer farm.Close()

	client := newFarmClient(t, farm)
	ctx := context.Background()

	functionName, err := client.DeployFunction(ctx, DeployFunctionParams{MemoryMB: 2048})
	if err != nil {
		t.Fatalf("DeployFunction: %v", err)
	}
	if functionName != "clipforge-render" {
		t.Fatalf("unexpected function name %q", functionName)
	}

	site, err := client.DeploySite(ctx, DeploySiteParams{EntryPoint: "src/index.ts", SiteName: "promo-bundle"})
	if err != nil {
		t.Fatalf("DeploySite: %v", err)
	}
	if site.ServeURL != "https://sites.example.com/promo-bundle" {
		t.Fatalf("unexpected serve URL %q", site.ServeURL)
	}

	quotas, err := client.GetQuotas(ctx, "")
	if err != nil {
		t.Fatalf("GetQuotas: %v", err)
	}
	limiter := LimiterFromQuotas(quotas)
	if limiter.Limit() != 3 {
		t.Fatalf("limiter sized to %d, want 3", limiter.Limit())
	}
	if err := limiter.Acquire(ctx); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer limiter.Release()

	job, err := client.SubmitRender(ctx, SubmitRenderParams{
		ServeURL:      site.ServeURL,
		CompositionID: "PromoClip",
		FunctionName:  functionName,
	})
	if err != nil {
		t.Fatalf("SubmitRender: %v", err)
	}
	if job.RenderID != "render-42" || job.BucketName != "renders-bucket" {
		t.Fatalf("unexpected render job %+v", job)
	}

	first, err := client.PollProgress(ctx, PollProgressParams{
		RenderID:     job.RenderID,
		BucketName:   job.BucketName,
		FunctionName: job.FunctionName,
	})
	if err != nil {
		t.Fatalf("PollProgress: %v", err)
	}
	if first.Done {
		t.Fatalf("first poll should be in flight, got %+v", first)
	}

	second, err := client.PollProgress(ctx, PollProgressParams{
		RenderID:     job.RenderID,
		BucketName:   job.BucketName,
		FunctionName: job.FunctionName,
	})
	if err != nil {
		t.Fatalf("PollProgress: %v", err)
	}
	if !second.Done || second.OutputFile != "s3://renders-bucket/out.mp4" {
		t.Fatalf("unexpected final progress %+v", second)
	}

	kinds := make([]string, 0)
	for _, op := range farm.Operations() {
		kinds = append(kinds, op.Kind)
	}
	want := []string{"function-deploy", "site-deploy", "quotas", "render-submit", "render-progress", "render-progress"}
	if len(kinds) != len(want) {
		t.Fatalf("recorded operations %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("operation %d = %q, want %q", i, kinds[i], want[i])
		}
	}
}

func TestClientRejectsBadCredentialsAtFarm(t *testing.T) {
	farm := renderstub.Start(renderstub.Options{
		AccessKey: "farm-access",
		SecretKey: "farm-secret",
	})
	defer farm.Close()

	client, err := NewClient(Config{
		BaseURL:   farm.BaseURL(),
		AccessKey: "farm-access",
		SecretKey: "wrong-secret",
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}

	_, err = client.GetQuotas(context.Background(), "us-east-1")
	var providerErr ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if providerErr.Status != 401 {
		t.Fatalf("status = %d, want 401", providerErr.Status)
	}
	if providerErr.Message != "bad signature" {
		t.Fatalf("message = %q", providerErr.Message)
	}
}

func TestClientSurfacesSubmitOutage(t *testing.T) {
	farm := renderstub.Start(renderstub.Options{
		RenderID:    "render-9",
		FailSubmits: 1,
	})
	defer farm.Close()

	client := newFarmClient(t, farm)
	ctx := context.Background()

	params := SubmitRenderParams{
		ServeURL:      "https://sites.example.com/bundle",
		CompositionID: "PromoClip",
		FunctionName:  "clipforge-render",
	}

	_, err := client.SubmitRender(ctx, params)
	var providerErr ProviderError
	if !errors.As(err, &providerErr) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if providerErr.Status != 502 || providerErr.Message != "farm unavailable" {
		t.Fatalf("unexpected provider error %+v", providerErr)
	}

	job, err := client.SubmitRender(ctx, params)
	if err != nil {
		t.Fatalf("second SubmitRender: %v", err)
	}
	if job.RenderID != "render-9" {
		t.Fatalf("render id = %q", job.RenderID)
	}

	ops := farm.Operations()
	if len(ops) != 2 {
		t.Fatalf("recorded %d operations, want 2", len(ops))
	}
	if ops[0].Status != 502 || ops[1].Status != 200 {
		t.Fatalf("operation statuses %d, %d", ops[0].Status, ops[1].Status)
	}
}
