package handshake

import (
	"html/template"
	"io"
	"time"

	"github.com/go-training/cms-oauth/pkg/core"
)

// TemplateName is the name of the callback page inside Template.
const TemplateName = "callback"

// DefaultFallbackDelay is used when a page is built with a non-positive delay.
const DefaultFallbackDelay = 800 * time.Millisecond

// OrphanedNotice is shown when the popup has no opener to talk to.
const OrphanedNotice = "Authorization complete. You may close this window."

// The script runs the delivery protocol inside the popup. deliver() is the
// only place a result is posted; the delivered flag makes it single-shot
// whichever of the ack listener and the fallback timer fires first, and the
// winner disarms the other. A targeted post the browser refuses (an
// opaque opener reports its origin as "null") is retried with '*'.
//
// Values are interpolated by html/template, which escapes them for a
// single-quoted JS string literal.
const pageSource = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="robots" content="noindex">
<title>Authorizing</title>
</head>
<body>
<script>
(function () {
  var msg = '{{.Message}}';
  var ack = '{{.Ack}}';
  var opener = window.opener;
  var delivered = false;
  var timer = null;

  function deliver(origin) {
    if (delivered) {
      return;
    }
    delivered = true;
    if (timer !== null) {
      clearTimeout(timer);
      timer = null;
    }
    window.removeEventListener('message', onMessage, false);
    try {
      opener.postMessage(msg, origin);
    } catch (err) {
      opener.postMessage(msg, '*');
    }
    window.close();
  }

  function onMessage(e) {
    if (e.source !== opener || e.data !== ack) {
      return;
    }
    deliver(e.origin);
  }

  if (!opener) {
    document.write('<p>{{.Notice}}</p>');
    return;
  }

  window.addEventListener('message', onMessage, false);
  timer = setTimeout(function () { deliver('*'); }, {{.FallbackMillis}});
  opener.postMessage(ack, '*');
})();
</script>
</body>
</html>
`

// Template is the parsed callback page. It is safe for concurrent use.
var Template = template.Must(template.New(TemplateName).Parse(pageSource))

// Page is the data rendered into Template.
type Page struct {
	Provider       string
	Ack            string
	Message        string
	Notice         string
	FallbackMillis int64
}

// NewPage encodes result and prepares the page data.
func NewPage(provider string, result core.CallbackResult, fallback time.Duration) (Page, error) {
	msg, err := Encode(provider, result)
	if err != nil {
		return Page{}, err
	}
	if fallback <= 0 {
		fallback = DefaultFallbackDelay
	}
	return Page{
		Provider:       provider,
		Ack:            Announcement(provider),
		Message:        msg.String(),
		Notice:         OrphanedNotice,
		FallbackMillis: fallback.Milliseconds(),
	}, nil
}

// Render writes the page to w.
func Render(w io.Writer, page Page) error {
	return Template.ExecuteTemplate(w, TemplateName, page)
}
