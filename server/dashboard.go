package server

import "net/http"

func dashboardHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Admission Dashboard</title>
<style>
  body { font-family: -apple-system, 'Segoe UI', Roboto, sans-serif; background: #f4f5f7; margin: 0; padding: 24px; color: #222; }
  h1 { margin: 0 0 4px; }
  .sub { color: #666; margin-bottom: 24px; }
  .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 16px; margin-bottom: 24px; }
  .card { background: #fff; border-radius: 8px; padding: 16px; box-shadow: 0 1px 3px rgba(0,0,0,.08); }
  .label { color: #666; font-size: .8em; text-transform: uppercase; letter-spacing: .05em; }
  .value { font-size: 1.8em; font-weight: 600; margin-top: 6px; }
  .ok { color: #1a7f37; } .bad { color: #cf222e; } .muted { color: #888; }
  table { width: 100%; border-collapse: collapse; background: #fff; border-radius: 8px; overflow: hidden; }
  th, td { text-align: left; padding: 10px 14px; border-bottom: 1px solid #eee; }
  th { background: #fafafa; font-size: .8em; text-transform: uppercase; color: #666; }
</style>
</head>
<body>
<h1>Admission</h1>
<div class="sub">Refreshes every 5 seconds</div>

<div class="grid">
  <div class="card"><div class="label">Backend</div><div class="value" id="backend">-</div><div id="latency" class="muted"></div></div>
  <div class="card"><div class="label">Total checks</div><div class="value" id="total">0</div></div>
  <div class="card"><div class="label">Allowed</div><div class="value ok" id="allowed">0</div></div>
  <div class="card"><div class="label">Blocked</div><div class="value bad" id="blocked">0</div></div>
  <div class="card"><div class="label">Fallbacks</div><div class="value" id="fallbacks">0</div></div>
  <div class="card"><div class="label">Fail-open</div><div class="value" id="failopens">0</div></div>
</div>

<h3>Policies</h3>
<table><thead><tr><th>Policy</th><th>Allowed</th><th>Blocked</th></tr></thead><tbody id="policies"></tbody></table>

<h3>Top identifiers</h3>
<table><thead><tr><th>Identifier</th><th>Total</th><th>Allowed</th><th>Blocked</th><th>Last seen</th></tr></thead><tbody id="clients"></tbody></table>

<script>
function esc(s) { const d = document.createElement('div'); d.textContent = s; return d.innerHTML; }

async function refresh() {
  try {
    const res = await fetch('/v1/stats');
    render(await res.json());
  } catch (e) {
    console.error('Failed to fetch stats:', e);
  }
}

function render(data) {
  const b = data.backend || {};
  const el = document.getElementById('backend');
  if (!b.using_redis) { el.textContent = 'memory'; el.className = 'value muted'; }
  else if (b.redis_healthy) { el.textContent = 'redis'; el.className = 'value ok'; }
  else { el.textContent = 'redis down'; el.className = 'value bad'; }
  document.getElementById('latency').textContent =
    b.redis_latency_ms !== undefined ? b.redis_latency_ms + ' ms' : '';

  const m = data.metrics || {};
  document.getElementById('total').textContent = (m.total_requests || 0).toLocaleString();
  document.getElementById('allowed').textContent = (m.allowed_requests || 0).toLocaleString();
  document.getElementById('blocked').textContent = (m.blocked_requests || 0).toLocaleString();
  document.getElementById('fallbacks').textContent = (m.fallbacks || 0).toLocaleString();
  document.getElementById('failopens').textContent = (m.fail_opens || 0).toLocaleString();

  document.getElementById('policies').innerHTML = (m.policies || []).map(p =>
    '<tr><td>' + esc(p.policy) + '</td><td>' + p.allowed + '</td><td>' + p.blocked + '</td></tr>').join('');

  document.getElementById('clients').innerHTML = (m.top_clients || []).map(c =>
    '<tr><td>' + esc(c.identifier) + '</td><td>' + c.total_requests + '</td><td>' + c.allowed_requests +
    '</td><td>' + c.blocked_requests + '</td><td>' + new Date(c.last_request_at).toLocaleTimeString() + '</td></tr>').join('');
}

refresh();
setInterval(refresh, 5000);
</script>
</body>
</html>`
