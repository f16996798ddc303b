package scenario

import (
	"context"
	"fmt"
	"net/http"

	"github.com/aint-no-code/reclaw-conformance/internal/protocol"
	"github.com/aint-no-code/reclaw-conformance/internal/report"
)

var httpScenarios = []Scenario{
	{
		Name:        "healthz.ok_true",
		Description: "GET /healthz returns {\"ok\":true}",
		Tags:        []string{"http", "health"},
		Kind:        KindHTTP,
		Run:         okEndpoint("healthz.ok_true", "/healthz", "health"),
	},
	{
		Name:        "readyz.ok_true",
		Description: "GET /readyz returns {\"ok\":true}",
		Tags:        []string{"http", "health"},
		Kind:        KindHTTP,
		Run:         okEndpoint("readyz.ok_true", "/readyz", "readiness"),
	},
	{
		Name:        "info.protocol_version",
		Description: "GET /info reports the expected protocolVersion",
		Tags:        []string{"http", "protocol"},
		Kind:        KindHTTP,
		Run:         runInfoProtocolVersion,
	},
	{
		Name:        "channels.unknown_webhook_not_found",
		Description: "POST to an unknown channel webhook returns 404 NOT_FOUND",
		Tags:        []string{"http", "channels"},
		Kind:        KindHTTP,
		Run: notFound("channels.unknown_webhook_not_found", "unknown channel webhook",
			"/channels/nonexistent/webhook", map[string]any{}),
	},
	{
		Name:        "tools.invoke_unknown_tool_not_found",
		Description: "POST /tools/invoke for an unknown tool returns 404 NOT_FOUND",
		Tags:        []string{"http", "tools"},
		Kind:        KindHTTP,
		Run: notFound("tools.invoke_unknown_tool_not_found", "unknown tool invoke",
			"/tools/invoke", map[string]any{"tool": "nonexistent.tool", "args": map[string]any{}}),
	},
}

func okEndpoint(name, path, what string) func(context.Context, *Env) report.Outcome {
	return func(ctx context.Context, env *Env) report.Outcome {
		payload, err := env.HTTP.GetJSON(ctx, path)
		if err != nil {
			return report.Fail(name, "%s endpoint request failed: %v", what, err)
		}
		if ok, _ := payload["ok"].(bool); !ok {
			return report.Fail(name, "%s endpoint did not return {\"ok\":true}", what).WithPayload(payload)
		}
		return report.Pass(name, what+" endpoint returned ok=true").WithPayload(payload)
	}
}

func runInfoProtocolVersion(ctx context.Context, env *Env) report.Outcome {
	const name = "info.protocol_version"

	payload, err := env.HTTP.GetJSON(ctx, "/info")
	if err != nil {
		return report.Fail(name, "info endpoint request failed: %v", err)
	}
	version, ok := payload["protocolVersion"].(float64)
	switch {
	case !ok || version < 0 || version != float64(int64(version)):
		return report.Fail(name, "info endpoint missing numeric protocolVersion").WithPayload(payload)
	case int(version) != protocol.ProtocolVersion:
		return report.Fail(name, "expected protocolVersion=%d, found %d", protocol.ProtocolVersion, int(version)).WithPayload(payload)
	}
	return report.Pass(name, fmt.Sprintf("protocolVersion=%d", int(version))).WithPayload(payload)
}

func notFound(name, what, path string, body any) func(context.Context, *Env) report.Outcome {
	return func(ctx context.Context, env *Env) report.Outcome {
		status, payload, err := env.HTTP.PostJSON(ctx, path, body)
		if err != nil {
			return report.Fail(name, "%s request failed: %v", what, err)
		}

		var code string
		if e, ok := payload["error"].(map[string]any); ok {
			code, _ = e["code"].(string)
		}
		if status != http.StatusNotFound || code != protocol.ErrorCodeNotFound {
			return report.Fail(name, "expected status=404 and error.code=NOT_FOUND, found status=%d, error.code=%q", status, code).
				WithPayload(payload)
		}
		return report.Pass(name, what+" returns 404 NOT_FOUND").WithPayload(payload)
	}
}
