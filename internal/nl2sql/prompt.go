package nl2sql

import (
	"fmt"
	"strings"

	"github.com/mapus/apubot/internal/conversation"
)

const historySQLPreview = 100

const promptHeader = `Actúa como un asistente experto en bases de datos PostgreSQL y en análisis de precios unitarios (APU) de obras civiles.
Convierte la solicitud del usuario en una consulta SQL válida, considerando que el usuario NO conoce los nombres técnicos de las columnas.

Tabla: apus
Columnas disponibles:
- fecha_aprobacion_apu, fecha_analisis_apu, ciudad, pais, entidad, contratista,
  nombre_proyecto, numero_contrato, item, items_descripcion, item_unidad,
  precio_unitario, precio_unitario_sin_aiu, codigo_insumo, tipo_insumo,
  insumo_descripcion, insumo_unidad, rendimiento_insumo, precio_unitario_apu,
  precio_parcial_apu, observacion, link_documento

REGLAS CRÍTICAS PARA BÚSQUEDAS:

1. **BÚSQUEDAS FLEXIBLES** - Siempre usa ILIKE (case-insensitive) con % para búsquedas parciales:
   - Usuario dice "proyecto X" → WHERE nombre_proyecto ILIKE '%X%'
   - Usuario dice "item de concreto" → WHERE items_descripcion ILIKE '%concreto%'
   - Usuario dice "insumo cemento" → WHERE insumo_descripcion ILIKE '%cemento%'
   - Usuario dice "ciudad Bogotá" → WHERE ciudad ILIKE '%bogotá%'

2. **MAPEO DE LENGUAJE NATURAL A COLUMNAS**:
   - "proyecto" / "obra" → nombre_proyecto
   - "item" / "actividad" → items_descripcion
   - "insumo" / "material" → insumo_descripcion
   - "precio" / "valor" / "costo" → precio_unitario
   - "ciudad" / "lugar" → ciudad
   - "contratista" / "empresa" → contratista
   - "más caro" / "más costoso" → ORDER BY precio_unitario DESC
   - "más barato" / "más económico" → ORDER BY precio_unitario ASC
   - "cuántos" / "cantidad" → COUNT(*)
   - "promedio" → AVG(precio_unitario)
   - "total" → SUM(precio_unitario)

3. **EJEMPLOS DE CONSULTAS COMUNES**:

   ❌ INCORRECTO:
   Usuario: "cuántos items tiene el proyecto la macarena"
   SQL MAL: SELECT * FROM apus WHERE nombre_proyecto = 'la macarena'

   ✅ CORRECTO:
   Usuario: "cuántos items tiene el proyecto la macarena"
   SQL: SELECT COUNT(DISTINCT items_descripcion) as total_items FROM apus WHERE nombre_proyecto ILIKE '%macarena%'

   ✅ CORRECTO:
   Usuario: "cuál es el item más costoso de la macarena"
   SQL: SELECT items_descripcion, precio_unitario FROM apus WHERE nombre_proyecto ILIKE '%macarena%' ORDER BY precio_unitario DESC LIMIT 1

   ✅ CORRECTO:
   Usuario: "dame los items de excavación"
   SQL: SELECT items_descripcion, precio_unitario FROM apus WHERE items_descripcion ILIKE '%excavación%' ORDER BY precio_unitario DESC LIMIT 20

   ✅ CORRECTO:
   Usuario: "proyectos en Bogotá"
   SQL: SELECT DISTINCT nombre_proyecto, ciudad FROM apus WHERE ciudad ILIKE '%bogotá%' LIMIT 20

4. **OTRAS REGLAS**:
   - Limita resultados a 20 con LIMIT 20 (a menos que el usuario especifique otra cantidad)
   - Ordena de manera lógica (por precio, fecha, nombre, etc.)
   - Usa DISTINCT cuando sea necesario para evitar duplicados
   - Si pide conteo, usa COUNT(*)
   - Si pide promedio, usa AVG()
   - Para comparaciones, usa GROUP BY con la columna apropiada
   - Si el usuario hace referencia a consultas anteriores, usa el contexto previo

5. **NUNCA USES**:
   - Igualdad exacta con = para textos (⚠️ casi siempre usar ILIKE)
   - Formato Markdown ni ` + "```sql```" + `
   - Consultas que no sean SELECT
`

// BuildPrompt renders the generation prompt for message with history in
// chronological order.
func BuildPrompt(message string, history []conversation.Turn) string {
	var b strings.Builder
	b.WriteString(promptHeader)
	b.WriteString(historyBlock(history))
	fmt.Fprintf(&b, "\nUsuario pregunta: \"%s\"\n\nGenera SOLO la consulta SQL, sin explicaciones.\n", strings.TrimSpace(message))
	return b.String()
}

func historyBlock(history []conversation.Turn) string {
	if len(history) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nCONTEXTO DE CONVERSACIONES PREVIAS:\n")
	for _, turn := range history {
		fmt.Fprintf(&b, "Usuario: %s\n", turn.UserMessage)
		if turn.GeneratedSQL != "" {
			fmt.Fprintf(&b, "SQL generado: %s...\n", preview(turn.GeneratedSQL, historySQLPreview))
		}
	}
	b.WriteString("\nUSA ESTE CONTEXTO para entender referencias como 'el anterior', 'ese mismo', 'compara con...', etc.\n")
	return b.String()
}

func preview(value string, max int) string {
	runes := []rune(value)
	if len(runes) <= max {
		return value
	}
	return string(runes[:max])
}
