package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>QuoteRelay Board</title>
  <style>
    :root {
      --ink: #1c2130;
      --paper: #f6f4ee;
      --card: #fffefb;
      --line: #d8d2c2;
      --accent: #4059ad;
      --accent-2: #e0a438;
      --danger: #bb4430;
      --muted: #6d7382;
      --shadow: 0 16px 32px rgba(28, 33, 48, 0.14);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Iowan Old Style", "Palatino Linotype", Georgia, serif;
      color: var(--ink);
      background:
        radial-gradient(900px 420px at -5% -10%, rgba(224, 164, 56, 0.16), transparent 60%),
        radial-gradient(800px 440px at 108% -8%, rgba(64, 89, 173, 0.15), transparent 62%),
        linear-gradient(150deg, #fbf8f1 0%, #f1f2f6 50%, #fffefb 100%);
      min-height: 100vh;
      padding: 20px;
    }

    .shell {
      max-width: 1100px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
    }

    .bar {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 16px;
      padding: 16px;
      box-shadow: var(--shadow);
    }

    h1 { margin: 0; font-size: clamp(1.2rem, 2vw, 1.7rem); }
    h2 { margin: 0 0 10px; font-size: 1.05rem; }

    .sub { margin-top: 6px; color: var(--muted); font-size: 0.9rem; }

    .controls {
      display: grid;
      gap: 10px;
      grid-template-columns: 1.4fr 0.8fr 0.8fr 0.5fr;
      margin-top: 12px;
    }

    input, select {
      width: 100%;
      border-radius: 10px;
      border: 1px solid var(--line);
      background: #ffffff;
      color: var(--ink);
      padding: 10px 12px;
      font-size: 0.92rem;
      font-family: inherit;
      outline: none;
    }

    input:focus, select:focus {
      border-color: var(--accent);
      box-shadow: 0 0 0 3px rgba(64, 89, 173, 0.14);
    }

    button {
      border: 0;
      border-radius: 10px;
      padding: 10px 12px;
      font-family: inherit;
      font-weight: 700;
      cursor: pointer;
    }

    .btn-primary { background: var(--accent); color: #ffffff; }
    .btn-secondary { background: #efe9da; color: var(--ink); border: 1px solid var(--line); }

    .grid { display: grid; gap: 14px; grid-template-columns: 1.3fr 1fr; }
    @media (max-width: 860px) { .grid { grid-template-columns: 1fr; } }

    .panel {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 16px;
      padding: 16px;
      box-shadow: var(--shadow);
    }

    .quote-card {
      border-left: 5px solid var(--accent-2);
      padding: 18px 18px 12px;
      background: linear-gradient(160deg, #fffdf6, #fbf6ea);
      border-radius: 12px;
      min-height: 110px;
    }

    .quote-text { font-size: 1.25rem; line-height: 1.5; font-style: italic; }
    .quote-meta { margin-top: 10px; color: var(--muted); font-size: 0.85rem; }

    table { width: 100%; border-collapse: collapse; font-size: 0.88rem; }
    th, td { text-align: left; padding: 7px 8px; border-bottom: 1px solid var(--line); }
    th { color: var(--muted); font-weight: 600; }

    .mono { font-family: "SFMono-Regular", Menlo, Consolas, monospace; font-size: 0.82rem; }
    .ok { color: #1c7c49; }
    .warn { color: #9a6b12; }
    .err { color: var(--danger); }

    .stats { display: grid; grid-template-columns: repeat(4, 1fr); gap: 10px; margin-top: 8px; }
    .stat {
      background: #f4f1e8;
      border: 1px solid var(--line);
      border-radius: 10px;
      padding: 10px;
      text-align: center;
    }
    .stat .value { font-size: 1.3rem; font-weight: 700; }
    .stat .label { color: var(--muted); font-size: 0.75rem; }

    .feed { list-style: none; margin: 0; padding: 0; max-height: 220px; overflow-y: auto; font-size: 0.84rem; }
    .feed li { padding: 6px 4px; border-bottom: 1px dashed var(--line); }

    .add-row { display: grid; grid-template-columns: 0.5fr 1.6fr 0.8fr 0.6fr; gap: 8px; margin-top: 10px; }
    #statusMessage { margin-top: 8px; font-size: 0.85rem; min-height: 1.2em; }
  </style>
</head>
<body>
  <div class="shell">
    <header class="bar">
      <h1>QuoteRelay Board</h1>
      <div class="sub">API base: <span id="apiBase" class="mono">-</span> | updated: <span id="lastUpdated">-</span></div>
      <div class="controls">
        <input id="token" type="password" placeholder="bearer token" autocomplete="off" />
        <input id="workspace" type="text" placeholder="workspace id" />
        <select id="category"><option value="">all categories</option></select>
        <button id="refresh" class="btn-primary">Refresh</button>
      </div>
      <div id="statusMessage"></div>
    </header>

    <section class="grid">
      <article class="panel">
        <h2>Random Quote</h2>
        <div class="quote-card">
          <div id="quoteText" class="quote-text">Press "Another" to draw a quote.</div>
          <div id="quoteMeta" class="quote-meta"></div>
        </div>
        <div class="add-row">
          <button id="another" class="btn-secondary">Another</button>
          <input id="newText" type="text" placeholder="new quote text" />
          <input id="newCategory" type="text" placeholder="category" />
          <button id="add" class="btn-primary">Add</button>
        </div>
      </article>

      <article class="panel">
        <h2>Sync Status</h2>
        <div class="stats">
          <div class="stat"><div id="statQuotes" class="value">0</div><div class="label">quotes</div></div>
          <div class="stat"><div id="statAdded" class="value">0</div><div class="label">added</div></div>
          <div class="stat"><div id="statConflicts" class="value">0</div><div class="label">conflicts</div></div>
          <div class="stat"><div id="statDead" class="value">0</div><div class="label">dead letters</div></div>
        </div>
        <h2 style="margin-top:14px;">Live Events</h2>
        <ul id="eventFeed" class="feed"><li>not connected</li></ul>
      </article>
    </section>

    <section class="panel">
      <h2>Quotes</h2>
      <table>
        <thead>
          <tr><th>ID</th><th>Text</th><th>Category</th><th>Revision</th></tr>
        </thead>
        <tbody id="quoteRows"></tbody>
      </table>
    </section>
  </div>

  <script>
    (function () {
      const dom = {
        token: document.getElementById("token"),
        workspace: document.getElementById("workspace"),
        category: document.getElementById("category"),
        refresh: document.getElementById("refresh"),
        another: document.getElementById("another"),
        add: document.getElementById("add"),
        newText: document.getElementById("newText"),
        newCategory: document.getElementById("newCategory"),
        apiBase: document.getElementById("apiBase"),
        lastUpdated: document.getElementById("lastUpdated"),
        statusMessage: document.getElementById("statusMessage"),
        quoteText: document.getElementById("quoteText"),
        quoteMeta: document.getElementById("quoteMeta"),
        quoteRows: document.getElementById("quoteRows"),
        eventFeed: document.getElementById("eventFeed"),
        statQuotes: document.getElementById("statQuotes"),
        statAdded: document.getElementById("statAdded"),
        statConflicts: document.getElementById("statConflicts"),
        statDead: document.getElementById("statDead"),
      };

      let socket = null;
      let knownIds = [];

      function getBase() { return window.location.origin; }
      function getToken() { return dom.token.value.trim(); }
      function getWorkspace() { return dom.workspace.value.trim(); }

      function cid(prefix) {
        return prefix + "_" + Date.now() + "_" + Math.random().toString(16).slice(2, 8);
      }

      function setStatus(text, cls) {
        dom.statusMessage.textContent = text;
        dom.statusMessage.className = cls || "";
      }

      async function request(path, options) {
        const token = getToken();
        if (!token) { throw new Error("missing token"); }
        const opts = options || {};
        opts.headers = Object.assign({
          "Authorization": "Bearer " + token,
          "X-Correlation-Id": cid("dash"),
        }, opts.headers || {});
        const response = await fetch(getBase() + path, opts);
        const text = await response.text();
        let data;
        try { data = JSON.parse(text); } catch (err) {
          throw new Error("non-json response: " + text.slice(0, 200));
        }
        if (!response.ok) {
          throw new Error(response.status + " " + String(data.code || "error") + ": " + String(data.message || ""));
        }
        return data;
      }

      function wsPath(workspace) {
        return "/v1/workspaces/" + encodeURIComponent(workspace);
      }

      function renderQuotes(items) {
        dom.quoteRows.innerHTML = "";
        knownIds = [];
        if (!Array.isArray(items) || items.length === 0) {
          const tr = document.createElement("tr");
          tr.innerHTML = "<td colspan=\"4\">No quotes yet</td>";
          dom.quoteRows.appendChild(tr);
          return;
        }
        items.forEach((q) => {
          knownIds.push(Number(q.id));
          const tr = document.createElement("tr");
          const td = (value, cls) => {
            const cell = document.createElement("td");
            if (cls) { cell.className = cls; }
            cell.textContent = String(value);
            return cell;
          };
          tr.appendChild(td(q.id, "mono"));
          tr.appendChild(td(q.text));
          tr.appendChild(td(q.category || "general"));
          tr.appendChild(td(q.revision || "-", "mono"));
          dom.quoteRows.appendChild(tr);
        });
      }

      function renderCategories(categories) {
        const current = dom.category.value;
        dom.category.innerHTML = "<option value=\"\">all categories</option>";
        (categories || []).forEach((name) => {
          const opt = document.createElement("option");
          opt.value = name;
          opt.textContent = name;
          dom.category.appendChild(opt);
        });
        dom.category.value = current;
      }

      function pushEvent(event) {
        if (dom.eventFeed.children.length === 1 && dom.eventFeed.children[0].textContent === "not connected") {
          dom.eventFeed.innerHTML = "";
        }
        const li = document.createElement("li");
        li.textContent = "[" + String(event.type || "event") + "] quote " + String(event.quoteId) +
          " rev=" + String(event.revision || "-") + " via " + String(event.origin || "-");
        dom.eventFeed.prepend(li);
        while (dom.eventFeed.children.length > 40) {
          dom.eventFeed.removeChild(dom.eventFeed.lastChild);
        }
      }

      function connectWatch() {
        const workspace = getWorkspace();
        const token = getToken();
        if (!workspace || !token) { return; }
        if (socket) { socket.close(); socket = null; }
        const scheme = window.location.protocol === "https:" ? "wss://" : "ws://";
        socket = new WebSocket(scheme + window.location.host + wsPath(workspace) + "/quotes/watch?access_token=" + encodeURIComponent(token));
        socket.onmessage = (frame) => {
          try { pushEvent(JSON.parse(frame.data)); } catch (err) { /* ignore bad frame */ }
          refresh();
        };
        socket.onclose = () => { socket = null; };
      }

      async function drawRandom() {
        const workspace = getWorkspace();
        if (!workspace) { setStatus("enter a workspace id", "warn"); return; }
        const category = dom.category.value;
        const suffix = category ? "?category=" + encodeURIComponent(category) : "";
        try {
          const q = await request(wsPath(workspace) + "/quotes/random" + suffix);
          dom.quoteText.textContent = "“" + String(q.text) + "”";
          dom.quoteMeta.textContent = "#" + String(q.id) + " | " + String(q.category || "general") + " | rev " + String(q.revision || "-");
          setStatus("", "");
        } catch (err) {
          dom.quoteText.textContent = "No quote available.";
          dom.quoteMeta.textContent = "";
          setStatus(String(err.message || err), "warn");
        }
      }

      async function addQuote() {
        const workspace = getWorkspace();
        const text = dom.newText.value.trim();
        if (!workspace || !text) { setStatus("workspace and text are required", "warn"); return; }
        const nextId = knownIds.length ? Math.max.apply(null, knownIds) + 1 : 1;
        try {
          await request(wsPath(workspace) + "/quotes/" + nextId, {
            method: "PUT",
            headers: { "If-Match": "\"0\"", "Content-Type": "application/json" },
            body: JSON.stringify({ text: text, category: dom.newCategory.value.trim() }),
          });
          dom.newText.value = "";
          setStatus("quote " + nextId + " saved", "ok");
          refresh();
        } catch (err) {
          setStatus(String(err.message || err), "err");
        }
      }

      async function refresh() {
        const workspace = getWorkspace();
        if (!workspace || !getToken()) { return; }
        const category = dom.category.value;
        const suffix = category ? "?category=" + encodeURIComponent(category) : "";
        try {
          const [list, categories, status] = await Promise.all([
            request(wsPath(workspace) + "/quotes" + suffix),
            request(wsPath(workspace) + "/categories"),
            request(wsPath(workspace) + "/sync/status").catch(() => null),
          ]);
          renderQuotes(list.items);
          renderCategories(categories.categories);
          if (status) {
            dom.statQuotes.textContent = String(status.quoteCount || 0);
            dom.statAdded.textContent = String((status.imports && status.imports.added) || 0);
            dom.statConflicts.textContent = String((status.imports && status.imports.conflicts) || 0);
            dom.statDead.textContent = String(status.deadLetters || 0);
          }
          dom.lastUpdated.textContent = new Date().toLocaleTimeString();
          setStatus("", "");
          if (!socket) { connectWatch(); }
        } catch (err) {
          setStatus(String(err.message || err), "err");
        }
      }

      dom.refresh.addEventListener("click", refresh);
      dom.another.addEventListener("click", drawRandom);
      dom.add.addEventListener("click", addQuote);
      dom.category.addEventListener("change", () => { refresh(); drawRandom(); });
      dom.token.addEventListener("change", () => {
        window.localStorage.setItem("quoterelay_dashboard_token", getToken());
        refresh();
      });
      dom.workspace.addEventListener("change", () => {
        window.localStorage.setItem("quoterelay_dashboard_workspace", getWorkspace());
        connectWatch();
        refresh();
      });

      dom.token.value = window.localStorage.getItem("quoterelay_dashboard_token") || "";
      dom.workspace.value = window.localStorage.getItem("quoterelay_dashboard_workspace") || "ws_live";
      dom.apiBase.textContent = getBase();

      if (dom.token.value) {
        refresh();
        drawRandom();
      } else {
        setStatus("enter token to start", "warn");
      }
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
