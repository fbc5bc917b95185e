// Package admission decides whether a caller may make another request under a
// named quota policy.
//
// A Service checks a shared Redis sliding window while Redis is healthy and
// falls back to a per-process fixed window otherwise. If both backends fail the
// request is let through.
//
// # Quick Start
//
//	svc, err := admission.New(
//	    admission.WithRedisURL(os.Getenv("REDIS_URL")),
//	    admission.WithLogger(logger),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	id := admission.Identifier(r, userID)
//	decision, err := svc.CheckLimit(ctx, id, core.PolicyAuth)
//	if err != nil {
//	    // unknown policy: a wiring bug
//	}
//	if !decision.Allowed {
//	    info := admission.RetryInfoFor(decision, time.Now())
//	    info.Apply(w.Header())
//	    w.WriteHeader(http.StatusTooManyRequests)
//	}
//
// # Policies
//
// The built-in policies are:
//
//	auth       5 requests / 15 minutes
//	api       60 requests / minute
//	ai        10 requests / minute
//	payment    5 requests / minute
//	messaging 10 requests / minute
//	strict     3 requests / minute
//
// Extra policies can be loaded from YAML with core.LoadPolicyFile and passed in
// through WithRegistry.
//
// # Keys
//
// Both backends key state by identifier alone, not by identifier and policy.
// Callers applying several policies to one caller should namespace the
// identifier, e.g. "auth:" + admission.Identifier(r, uid).
//
// # Redis
//
// The connection is created on the first check that needs it, exactly once.
// After a Redis error the service serves from memory and re-probes Redis in the
// background at most once per health interval.
package admission
