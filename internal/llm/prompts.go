package llm

import (
	"fmt"
	"strings"
)

func interactionPrompt(channel, notes string, participants []string) string {
	if channel == "" {
		channel = "comunicación"
	}
	who := strings.Join(participants, ", ")
	if who == "" {
		who = "No especificados"
	}
	return fmt.Sprintf(`Analiza esta interacción de %s y extrae información CRM estructurada.

Contenido de la interacción:
%s

Participantes: %s

Extrae la siguiente información en formato JSON:
{
  "summary": "Resumen breve de la interacción (máximo 200 caracteres)",
  "sentiment": "positive|neutral|negative",
  "urgency": "low|medium|high|critical",
  "interaction_type": "inquiry|proposal|complaint|follow_up|meeting|other",
  "requirements": ["requerimiento"],
  "kpis": ["kpi mencionado"],
  "budget": 0,
  "currency": "USD",
  "next_steps": [{"title": "Título del próximo paso", "due_date": "2025-01-20", "priority": "low|medium|high"}],
  "topics": ["tema"],
  "risks": ["riesgo identificado"],
  "opportunities": ["oportunidad identificada"]
}

IMPORTANTE:
- Si se menciona un presupuesto o monto, extrae el valor numérico en "budget".
- Las fechas de próximos pasos van en formato YYYY-MM-DD.
- Si no hay información para un campo, usa null o un arreglo vacío.`, channel, notes, who)
}

const audioPrompt = `Analiza esta grabación de llamada de ventas y extrae:
1. Transcripción completa identificando quién habla
2. Información del contacto cliente (nombre, empresa, email)
3. Detalles de oportunidad de negocio si se mencionan (monto, moneda)
4. Próximos pasos o compromisos acordados con fechas
5. Sentimiento general y urgencia de la conversación
6. Temas clave, riesgos y oportunidades

Devuelve JSON con este formato:
{
  "summary": "",
  "contact": {"name": "", "company": "", "email": ""},
  "deal": {"value": 0, "currency": "USD"},
  "next_steps": [{"title": "", "due_date": "", "priority": ""}],
  "sentiment": "neutral",
  "urgency": "medium",
  "topics": [""],
  "risks": [""],
  "opportunities": [""],
  "transcript": ""
}`

const videoPrompt = `Analiza esta reunión en video considerando tanto el audio como los elementos visuales.
1. Genera la transcripción del audio y extrae información CRM clave.
2. Describe brevemente lo que ocurre visualmente (presentaciones, pantallas, productos, texto en pantalla).
3. Identifica elementos visuales relevantes y su relación con la conversación.

Devuelve JSON con este formato:
{
  "summary": "",
  "contact": {"name": "", "company": "", "email": ""},
  "deal": {"value": 0, "currency": "USD"},
  "next_steps": [{"title": "", "due_date": "", "priority": ""}],
  "sentiment": "neutral",
  "urgency": "medium",
  "topics": [""],
  "transcript": "",
  "visual_summary": "",
  "key_visual_elements": [""]
}`
