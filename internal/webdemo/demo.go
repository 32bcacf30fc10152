// Package webdemo serves a self-contained browser page for trying the
// posture service: it captures the webcam, streams frames to /ws/posture,
// and shows the feedback and skeleton overlay coming back.
package webdemo

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/SuyashBhavalkar3/An-Automated-System-for-Gym-Exercise-Posture-Correction-Using-Computer-Vision/internal/logger"
)

// Handler serves the demo page.
type Handler struct {
	page []byte
}

// NewHandler creates the demo handler. exercises populates the selector.
func NewHandler(exercises []string) *Handler {
	ids, err := json.Marshal(exercises)
	if err != nil {
		ids = []byte("[]")
	}
	page := strings.Replace(indexHTML, "EXERCISES_JSON", string(ids), 1)
	return &Handler{page: []byte(page)}
}

// Register mounts the page on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/demo", h.ServeHTTP)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(h.page); err != nil {
		logger.Warn("WebDemo", "write page: %v", err)
	}
}

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Posture Correction Demo</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { font-family: sans-serif; background: #111; color: #eee; margin: 0; padding: 20px; }
        .app { max-width: 1100px; margin: 0 auto; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .badge { padding: 4px 10px; border-radius: 4px; font-size: 13px; background: #444; }
        .badge.connected { background: #164; }
        .badge.error { background: #833; }
        .grid { display: grid; grid-template-columns: 1fr 1fr; gap: 16px; margin-top: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 14px; }
        video, img.skeleton { width: 100%; height: auto; background: #000; border-radius: 4px; }
        #feedback li { margin: 6px 0; }
        #feedback li.bad { color: #f88; }
        #feedback li.good { color: #8f8; }
        select, button { padding: 6px 12px; border-radius: 4px; border: none; margin-right: 8px; }
        .stats { font-size: 13px; color: #999; margin-top: 8px; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <h1>Posture Correction Demo</h1>
            <span class="badge" id="status-badge">disconnected</span>
        </div>
        <div>
            <select id="exercise"></select>
            <button id="start">Start</button>
            <button id="stop" disabled>Stop</button>
        </div>
        <div class="grid">
            <div class="panel">
                <h2>Camera</h2>
                <video id="camera" autoplay playsinline muted></video>
            </div>
            <div class="panel">
                <h2>Skeleton</h2>
                <img id="skeleton" class="skeleton" alt="skeleton overlay">
            </div>
            <div class="panel" style="grid-column: span 2;">
                <h2>Feedback</h2>
                <ul id="feedback"></ul>
                <div class="stats" id="stats"></div>
            </div>
        </div>
    </div>
    <canvas id="capture" style="display:none;"></canvas>
    <script>
        const RECONNECT_DELAY_MS = 1500;
        const SEND_INTERVAL_MS = 100;

        const exercises = EXERCISES_JSON;
        const select = document.getElementById('exercise');
        exercises.forEach(id => {
            const opt = document.createElement('option');
            opt.value = id; opt.textContent = id;
            select.appendChild(opt);
        });

        const badge = document.getElementById('status-badge');
        const video = document.getElementById('camera');
        const canvas = document.getElementById('capture');
        const skeleton = document.getElementById('skeleton');
        const feedbackList = document.getElementById('feedback');
        const stats = document.getElementById('stats');

        let ws = null;
        let sendTimer = null;
        let reconnectTimer = null;
        let running = false;
        let frames = 0;

        function setBadge(text, cls) {
            badge.textContent = text;
            badge.className = 'badge ' + (cls || '');
        }

        function connect() {
            // A fresh connect cancels any pending reconnect attempt.
            if (reconnectTimer) { clearTimeout(reconnectTimer); reconnectTimer = null; }
            const proto = location.protocol === 'https:' ? 'wss' : 'ws';
            ws = new WebSocket(proto + '://' + location.host + '/ws/posture?exercise=' + select.value);
            setBadge('connecting');
            ws.onopen = () => { setBadge('connected', 'connected'); startSending(); };
            ws.onmessage = ev => handleEnvelope(JSON.parse(ev.data));
            ws.onclose = ev => {
                stopSending();
                if (!running) { setBadge('disconnected'); return; }
                if (ev.code === 1000 || ev.code === 1001) { setBadge('closed'); running = false; return; }
                // Abnormal closure: exactly one pending reconnect timer.
                setBadge('reconnecting...', 'error');
                if (reconnectTimer) clearTimeout(reconnectTimer);
                reconnectTimer = setTimeout(connect, RECONNECT_DELAY_MS);
            };
        }

        function handleEnvelope(env) {
            feedbackList.innerHTML = '';
            (env.feedback || []).forEach(line => {
                const li = document.createElement('li');
                li.textContent = line;
                li.className = env.status === 'incorrect' ? 'bad' : 'good';
                feedbackList.appendChild(li);
            });
            if (env.skeleton_frame) {
                skeleton.src = 'data:image/jpeg;base64,' + env.skeleton_frame;
            }
            frames++;
            const conf = env.confidence != null ? env.confidence.toFixed(2) : '-';
            stats.textContent = 'status=' + env.status + ' confidence=' + conf + ' frames=' + frames;
        }

        function startSending() {
            const ctx = canvas.getContext('2d');
            sendTimer = setInterval(() => {
                if (!ws || ws.readyState !== WebSocket.OPEN || video.videoWidth === 0) return;
                canvas.width = video.videoWidth;
                canvas.height = video.videoHeight;
                ctx.drawImage(video, 0, 0);
                const frame = canvas.toDataURL('image/jpeg', 0.7).split(',')[1];
                ws.send(JSON.stringify({ exercise: select.value, frame: frame }));
            }, SEND_INTERVAL_MS);
        }

        function stopSending() {
            if (sendTimer) { clearInterval(sendTimer); sendTimer = null; }
        }

        document.getElementById('start').onclick = async () => {
            const stream = await navigator.mediaDevices.getUserMedia({ video: true });
            video.srcObject = stream;
            running = true;
            connect();
            document.getElementById('start').disabled = true;
            document.getElementById('stop').disabled = false;
        };

        document.getElementById('stop').onclick = () => {
            running = false;
            stopSending();
            if (reconnectTimer) { clearTimeout(reconnectTimer); reconnectTimer = null; }
            if (ws) ws.close(1000);
            if (video.srcObject) { video.srcObject.getTracks().forEach(t => t.stop()); video.srcObject = null; }
            setBadge('disconnected');
            document.getElementById('start').disabled = false;
            document.getElementById('stop').disabled = true;
        };
    </script>
</body>
</html>
`
