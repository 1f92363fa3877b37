package llm

import (
	"fmt"
	"strings"

	"github.com/imedina/evidens/internal/model"
)

// Prompt templates are opaque to the rest of the system: the pipeline only
// depends on the markers parsed in gateway.go and on the card envelope.

const systemRole = "Eres un asistente experto en medicina basada en la evidencia. " +
	"Respondes con precisión, citas solo los artículos proporcionados y nunca inventas datos."

// Truncation limits for per-article records in the synthesis prompt
const (
	maxAbstractChars = 300
	maxAnalysisChars = 500
)

func strategyPrompt(question model.Question) string {
	return fmt.Sprintf(`Pregunta clínica: %s

Formula una estrategia de búsqueda booleana para PubMed (términos MeSH y texto libre, operadores AND/OR, filtros si procede). Explica brevemente tu razonamiento.

Termina tu respuesta EXACTAMENTE con estas líneas:
ESTRATEGIA: <la consulta booleana en una sola línea>
SENSIBILIDAD: <estimación 0-100>
PRECISION: <estimación 0-100>`, question.Text)
}

func analyzePrompt(article model.Article, clinicalQuestion string) string {
	return fmt.Sprintf(`Pregunta clínica: %s

Artículo a evaluar:
PMID: %s
Título: %s
Autores: %s
Fecha: %s
Revista: %s
Resumen: %s

Realiza una valoración crítica del artículo en relación con la pregunta clínica. Responde SOLO con HTML siguiendo exactamente esta estructura:

<div class="card-analysis">
  <div class="card-header">
    <h3>ANÁLISIS DE EVIDENCIA</h3>
    <div class="badges">
      <span class="badge quality">[1-5 estrellas usando ★ y ☆, cinco caracteres]</span>
      <span class="badge type">[tipo de estudio canónico]</span>
    </div>
  </div>
  <div class="card-section">
    <h4>RESUMEN CLÍNICO</h4>
    <p>...</p>
  </div>
  <div class="card-section">
    <h4>FORTALEZAS Y LIMITACIONES</h4>
    <p>...</p>
  </div>
  <div class="card-section">
    <h4>APLICABILIDAD</h4>
    <p>...</p>
  </div>
</div>`,
		clinicalQuestion,
		article.PMID,
		article.Title,
		joinAuthors(article.Authors, 5),
		article.PublicationDate,
		article.Source,
		truncate(article.Abstract, maxAbstractChars),
	)
}

// batchDelimiter precedes each per-article card in a batch response. The
// gateway aligns responses to the submitted PMID list by these markers.
const batchDelimiter = "===PMID %s==="

func batchPrompt(articles []model.Article, clinicalQuestion string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pregunta clínica: %s\n\n", clinicalQuestion)
	sb.WriteString("Evalúa críticamente CADA uno de los siguientes artículos. ")
	sb.WriteString("Para cada artículo, empieza con una línea exactamente igual a su marcador y a continuación el HTML de análisis con la misma estructura de tarjeta (div.card-analysis con badges de calidad ★/☆ y tipo de estudio).\n\n")

	for _, a := range articles {
		fmt.Fprintf(&sb, "Marcador: "+batchDelimiter+"\n", a.PMID)
		fmt.Fprintf(&sb, "Título: %s\nFecha: %s\nResumen: %s\n\n", a.Title, a.PublicationDate, truncate(a.Abstract, maxAbstractChars))
	}
	return sb.String()
}

func synthesisPrompt(clinicalQuestion string, articles []model.Article) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Pregunta clínica: %s\n\n", clinicalQuestion)
	sb.WriteString("Sintetiza la evidencia de los siguientes artículos en un documento HTML estructurado (<h3>, <p>, <ul>). ")
	sb.WriteString("Cita cada afirmación con el formato exacto (Apellido et al., AAAA) usando el primer autor del artículo correspondiente. ")
	sb.WriteString("Señala acuerdos, discrepancias y lagunas de la evidencia.\n\n")

	for _, a := range articles {
		fmt.Fprintf(&sb, "PMID %s\nTítulo: %s\nAutores: %s\nFecha: %s\nResumen: %s\n",
			a.PMID,
			a.Title,
			joinAuthors(a.Authors, 3),
			a.PublicationDate,
			truncate(a.Abstract, maxAbstractChars),
		)
		if a.SecondaryAnalysis != "" {
			fmt.Fprintf(&sb, "Análisis: %s\n", truncate(a.SecondaryAnalysis, maxAnalysisChars))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func joinAuthors(authors model.AuthorList, max int) string {
	names := make([]string, 0, len(authors))
	for i, a := range authors {
		if i >= max {
			names = append(names, "et al.")
			break
		}
		names = append(names, a.Name)
	}
	if len(names) == 0 {
		return "(sin autores)"
	}
	return strings.Join(names, ", ")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "…"
}
