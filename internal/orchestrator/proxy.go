package orchestrator

import (
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"

	"github.com/optiinfra/optiinfra/internal/apperrors"
	"github.com/optiinfra/optiinfra/internal/logger"
)

// pluralAgents inverts agentPlurals for route dispatch.
var pluralAgents = func() map[string]string {
	out := make(map[string]string, len(agentPlurals))
	for agentType, plural := range agentPlurals {
		out[plural] = agentType
	}
	return out
}()

// handleAgentProxy forwards /api/v2/<domain>/... to the active agent
// owning that domain.
func (s *Server) handleAgentProxy(w http.ResponseWriter, r *http.Request) {
	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/api/v2/"), "/", 2)
	agentType, ok := pluralAgents[parts[0]]
	if !ok {
		writeError(w, apperrors.Newf(apperrors.KindNotFound, "orchestrator",
			"unknown domain %q", parts[0]))
		return
	}

	agent, err := s.store.ActiveAgentByType(r.Context(), agentType)
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.KindUnavailable, "orchestrator",
			"no agent available for "+agentType))
		return
	}

	target, err := url.Parse(agent.Endpoint)
	if err != nil {
		writeError(w, apperrors.Wrap(err, apperrors.KindInternal, "orchestrator",
			"agent endpoint "+agent.Endpoint))
		return
	}

	proxy := httputil.NewSingleHostReverseProxy(target)
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		s.log.Warn("agent proxy failed",
			logger.String("agent_type", agentType),
			logger.Error(err))
		writeError(w, apperrors.Wrap(err, apperrors.KindUnavailable, "orchestrator",
			agentType+" agent unreachable"))
	}
	proxy.ServeHTTP(w, r)
}
