package capability

import (
	"context"

	"autologin/internal/session"
	"autologin/internal/template"
)

// StreamVar is the template placeholder filled with the stream URL.
const StreamVar = "streamURL"

// StreamSource resolves the current stream URL.
type StreamSource interface {
	Resolve(ctx context.Context) (string, bool)
}

// Frontend serves pages from the template store, filling in the stream
// URL on demand.  Only GET is allowed.
type Frontend struct {
	Templates *template.Store
	Stream    StreamSource

	// Vars are additional placeholders available to every page.
	Vars template.Vars
}

func (f *Frontend) Handle(ctx context.Context, req *session.Request, sess *session.Session) error {
	if req.Method != "GET" {
		return methodNotAllowed(req, sess)
	}

	name := template.Sanitize(req.Resource)
	if name == "/" {
		name = "/index.html"
	}
	sess.Logger.Verbose("loading template %s%s", f.Templates.Root(), name)

	page, ok := f.Templates.Load(name, f.vars(ctx, sess))
	if !ok {
		sess.Logger.Info("404 template %s not found", name)
		return SendError(sess, 404)
	}

	if err := sess.SendStatus(200); err != nil {
		return err
	}
	if err := sess.SendHeader("Content-Type", template.ContentType(name)); err != nil {
		return err
	}
	return sess.SendBody(page)
}

func (f *Frontend) vars(ctx context.Context, sess *session.Session) template.Vars {
	vars := make(template.Vars, len(f.Vars)+1)
	for k, v := range f.Vars {
		vars[k] = v
	}
	if f.Stream != nil {
		vars[StreamVar] = func() string {
			url, ok := f.Stream.Resolve(ctx)
			if !ok {
				sess.Logger.Warn("no stream url available, serving page without it")
			}
			return url
		}
	}
	return vars
}
