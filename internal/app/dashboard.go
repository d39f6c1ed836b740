package app

// dashboardHTML renders the snapshot tables from the live feed and hosts the
// assistant chat.
const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Tippelaget</title>
    <style>
        :root {
            --bg-primary: #0d1117;
            --bg-secondary: #161b22;
            --border-color: #30363d;
            --text-primary: #c9d1d9;
            --text-secondary: #8b949e;
            --accent-blue: #58a6ff;
            --accent-green: #3fb950;
            --accent-red: #f85149;
        }
        * { box-sizing: border-box; }
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif;
            background: var(--bg-primary);
            color: var(--text-primary);
            margin: 0 auto;
            padding: 20px;
            max-width: 1200px;
        }
        header { display: flex; justify-content: space-between; align-items: center; flex-wrap: wrap; gap: 10px; }
        header a { color: var(--accent-blue); text-decoration: none; }
        .status { color: var(--text-secondary); font-size: 13px; }
        .status.error { color: var(--accent-red); }
        nav { display: flex; flex-wrap: wrap; gap: 6px; margin: 16px 0; }
        nav button, form button {
            background: var(--bg-secondary);
            color: var(--text-primary);
            border: 1px solid var(--border-color);
            border-radius: 6px;
            padding: 6px 12px;
            cursor: pointer;
        }
        nav button.active { border-color: var(--accent-blue); color: var(--accent-blue); }
        section { background: var(--bg-secondary); border: 1px solid var(--border-color); border-radius: 6px; padding: 16px; overflow-x: auto; }
        table { border-collapse: collapse; width: 100%; font-size: 13px; }
        th, td { text-align: left; padding: 4px 8px; border-bottom: 1px solid var(--border-color); }
        th { color: var(--text-secondary); font-weight: 600; }
        .pos { color: var(--accent-green); }
        .neg { color: var(--accent-red); }
        .notice { color: var(--accent-red); margin-bottom: 8px; }
        .chat { margin-top: 20px; }
        .chat textarea { width: 100%; min-height: 60px; background: var(--bg-primary); color: var(--text-primary); border: 1px solid var(--border-color); border-radius: 6px; padding: 8px; }
        .answer { white-space: pre-wrap; margin-top: 10px; }
    </style>
</head>
<body>
    <header>
        <h1>⚽ Tippelaget</h1>
        <div>
            <span id="status" class="status">connecting…</span>
            &nbsp;<a href="/settings">Settings</a>
        </div>
    </header>
    <nav id="tabs"></nav>
    <section id="table"></section>

    <section class="chat">
        <form id="ask">
            <select id="persona"></select>
            <p id="greeting" class="status"></p>
            <textarea id="question" placeholder="Ask about the season"></textarea>
            <button type="submit">Ask</button>
        </form>
        <div id="answer" class="answer"></div>
    </section>

    <script>
    const tables = {
        'total-payout': s => s.total_payout,
        'average-odds': s => s.average_odds,
        'cumulative-payout': s => s.cumulative_payout,
        'win-rate': s => s.win_rate,
        'cumulative-vs-baseline': s => s.cumulative_vs_baseline.players,
        'team-total': s => s.team_total.weeks,
        'luck': s => s.luck.ratios.concat(s.luck.undefined || []),
        'tippekassa': s => s.tippekassa.weeks,
    };
    let snapshot = null;
    let current = 'total-payout';

    function renderTabs() {
        const nav = document.getElementById('tabs');
        nav.innerHTML = '';
        Object.keys(tables).forEach(name => {
            const b = document.createElement('button');
            b.textContent = name;
            b.className = name === current ? 'active' : '';
            b.onclick = () => { current = name; renderTabs(); renderTable(); };
            nav.appendChild(b);
        });
    }

    function cell(v) {
        if (v === null || v === undefined) return '<td>–</td>';
        const n = Number(v);
        if (typeof v === 'string' && v !== '' && !isNaN(n)) {
            return '<td class="' + (n < 0 ? 'neg' : '') + '">' + n.toFixed(2).replace(/\.00$/, '') + '</td>';
        }
        if (typeof v === 'object') return '<td>' + JSON.stringify(v) + '</td>';
        return '<td>' + String(v) + '</td>';
    }

    function renderTable() {
        const el = document.getElementById('table');
        if (!snapshot) { el.textContent = 'waiting for data…'; return; }
        let html = '';
        if (current === 'tippekassa' && snapshot.tippekassa_error) {
            html += '<div class="notice">' + snapshot.tippekassa_error + '</div>';
        }
        if (current === 'team-total' && snapshot.team_total.difference) {
            const d = snapshot.team_total.difference;
            html += '<p>Gameweek ' + d.gameweek_num + ': difference ' + cell(d.diff).replace(/<\/?td[^>]*>/g, '') + ' NOK</p>';
        }
        const rows = tables[current](snapshot) || [];
        if (rows.length === 0) { el.innerHTML = html + '<p>No data.</p>'; return; }
        const cols = Object.keys(rows[0]);
        html += '<table><tr>' + cols.map(c => '<th>' + c + '</th>').join('') + '</tr>';
        rows.forEach(r => { html += '<tr>' + cols.map(c => cell(r[c])).join('') + '</tr>'; });
        el.innerHTML = html + '</table>';
    }

    function setStatus(text, isError) {
        const el = document.getElementById('status');
        el.textContent = text;
        el.className = 'status' + (isError ? ' error' : '');
    }

    function connect() {
        const proto = location.protocol === 'https:' ? 'wss' : 'ws';
        const ws = new WebSocket(proto + '://' + location.host + '/ws');
        ws.onmessage = ev => {
            const msg = JSON.parse(ev.data);
            if (msg.type === 'snapshot') {
                snapshot = msg.payload;
                setStatus(snapshot.bet_count + ' bets · GW ' + snapshot.latest_gameweek + ' · ' + new Date(snapshot.generated_at).toLocaleString(), false);
                renderTable();
            } else if (msg.type === 'error') {
                setStatus('refresh failed: ' + msg.payload.error, true);
            }
        };
        ws.onclose = () => { setStatus('disconnected, retrying…', true); setTimeout(connect, 3000); };
    }

    async function loadPersonas() {
        const res = await fetch('/api/v1/assistants');
        const data = await res.json();
        const sel = document.getElementById('persona');
        data.personas.forEach(p => {
            const o = document.createElement('option');
            o.value = p.name;
            o.textContent = p.title;
            o.dataset.greeting = p.greeting;
            sel.appendChild(o);
        });
        const greet = () => { document.getElementById('greeting').textContent = sel.selectedOptions[0].dataset.greeting; };
        sel.onchange = greet;
        greet();
    }

    document.getElementById('ask').onsubmit = async ev => {
        ev.preventDefault();
        const persona = document.getElementById('persona').value;
        const question = document.getElementById('question').value;
        const out = document.getElementById('answer');
        out.textContent = '…';
        const res = await fetch('/api/v1/assistants/' + persona, {
            method: 'POST',
            headers: {'Content-Type': 'application/json'},
            body: JSON.stringify({question}),
        });
        const ans = await res.json();
        if (ans.skipped) { out.textContent = ''; return; }
        out.textContent = ans.error ? ans.error : (ans.byline ? ans.byline + ':\n' : '') + ans.text;
    };

    renderTabs();
    renderTable();
    connect();
    loadPersonas();
    </script>
</body>
</html>`

// settingsPageHTML edits the runtime settings as JSON.
const settingsPageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Tippelaget Settings</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Helvetica, Arial, sans-serif; background: #0d1117; color: #e6edf3; max-width: 900px; margin: 0 auto; padding: 20px; }
        a { color: #58a6ff; }
        textarea { width: 100%; min-height: 480px; font-family: monospace; font-size: 13px; background: #161b22; color: #e6edf3; border: 1px solid #30363d; border-radius: 6px; padding: 10px; }
        input { background: #161b22; color: #e6edf3; border: 1px solid #30363d; border-radius: 6px; padding: 6px; width: 320px; }
        button { background: #21262d; color: #e6edf3; border: 1px solid #30363d; border-radius: 6px; padding: 6px 14px; cursor: pointer; margin-right: 6px; }
        #info { color: #8b949e; font-size: 13px; }
        #result.ok { color: #3fb950; }
        #result.err { color: #f85149; white-space: pre-wrap; }
    </style>
</head>
<body>
    <p><a href="/">← Dashboard</a></p>
    <h1>Settings</h1>
    <p id="info"></p>
    <p><input id="token" type="password" placeholder="Admin token (if configured)"></p>
    <textarea id="config"></textarea>
    <p>
        <button id="save">Save</button>
        <button id="reset">Reset to defaults</button>
    </p>
    <p id="result"></p>
    <script>
    function headers() {
        const h = {'Content-Type': 'application/json'};
        const t = document.getElementById('token').value;
        if (t) h['Authorization'] = 'Bearer ' + t;
        return h;
    }
    async function load() {
        const cfg = await (await fetch('/api/settings')).json();
        document.getElementById('config').value = JSON.stringify(cfg, null, 2);
        const info = await (await fetch('/api/settings/info')).json();
        document.getElementById('info').textContent = 'Source: ' + info.source +
            (info.location ? ' (' + info.location + ')' : '') +
            ' · last updated ' + new Date(info.last_updated).toLocaleString() +
            (info.is_valid ? '' : ' · invalid: ' + (info.errors || []).join('; '));
    }
    function show(ok, text) {
        const el = document.getElementById('result');
        el.className = ok ? 'ok' : 'err';
        el.textContent = text;
    }
    async function post(url, body) {
        const res = await fetch(url, {method: 'POST', headers: headers(), body: body});
        const data = await res.json().catch(() => ({}));
        if (res.ok) { show(true, 'Applied at ' + new Date(data.applied_at).toLocaleString()); load(); return; }
        if (data.errors) { show(false, data.errors.map(e => e.field + ': ' + e.message).join('\n')); return; }
        show(false, data.message || data.error || res.statusText);
    }
    document.getElementById('save').onclick = () => {
        try { JSON.parse(document.getElementById('config').value); } catch (e) { show(false, 'Invalid JSON: ' + e.message); return; }
        post('/api/settings', document.getElementById('config').value);
    };
    document.getElementById('reset').onclick = () => {
        if (confirm('Reset all settings to defaults?')) post('/api/settings/reset', '{}');
    };
    load();
    </script>
</body>
</html>`
