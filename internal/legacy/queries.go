package legacy

import "strings"

// The legacy store keeps its original Spanish schema. Queries use `?`
// placeholders, rebound per driver by the client.

const changesQuery = `
	SELECT idturno, idpaciente, idestadoturno, fecha_hora_mdf
	FROM turnoshistorico
	WHERE fecha_hora_mdf > ?
	ORDER BY fecha_hora_mdf
`

func detailQuery(size int) string {
	var where string
	if size == 1 {
		where = "WHERE tur.idturno = ?"
	} else {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", size), ",")
		where = "WHERE tur.idturno IN (" + placeholders + ")"
	}

	return `
	SELECT
		tur.idturno,
		efe.idefector,
		s.idservicio,
		esp.idespecialidad,
		tur.idefecservesp,
		tdoc.abrev_doc,
		per.nro_doc,
		TRIM(per.apellido),
		TRIM(per.nombre_per),
		tur.fecha,
		tur.hora,
		TRIM(p.apellido),
		TRIM(p.nombre),
		s.descripcion,
		esp.descripcion,
		efe.nombre,
		TRIM(efe.nomcalle),
		efe.numero,
		efe.letracalle,
		efe.coordenadax,
		efe.coordenaday,
		efe.telefono,
		TRIM(calle.nom_calle),
		TRIM(per.carac_telef),
		CAST(per.nro_telef AS VARCHAR(13))
	FROM turnos tur
	JOIN personalefector pe ON pe.idpersonalefector = tur.idpersonalefector
	JOIN personal p ON p.idpersonal = pe.idpersonal
	JOIN efectores efe ON efe.idefector = pe.idefector
	JOIN efectorservesp ese ON ese.idefecservesp = tur.idefecservesp
	JOIN especialidadesserv se ON se.idespecialidadserv = ese.idespecialidadserv
	JOIN servicios s ON s.idservicio = se.idservicio
	JOIN especialidades esp ON esp.idespecialidad = se.idespecialidad
	JOIN v_personas per ON per.id_persona = tur.idpaciente
	JOIN v_tipo_doc tdoc ON tdoc.cod_doc = per.cod_doc
	LEFT JOIN v_calles calle ON calle.cod_calle = efe.cod_calle
	` + where
}

const patientQuery = `
	SELECT
		TRIM(per.apellido),
		TRIM(per.nombre_per),
		TRIM(per.carac_telef),
		CAST(per.nro_telef AS VARCHAR(13))
	FROM v_personas per
	WHERE per.id_persona = ?
`

const facilityQuery = `
	SELECT
		efe.nombre,
		TRIM(efe.nomcalle),
		efe.numero,
		efe.letracalle,
		efe.coordenadax,
		efe.coordenaday,
		efe.telefono,
		TRIM(calle.nom_calle)
	FROM efectores efe
	LEFT JOIN v_calles calle ON calle.cod_calle = efe.cod_calle
	WHERE efe.idefector = ?
`
